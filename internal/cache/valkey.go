package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible server. Each command
// runs on a short-lived connection so the provider itself holds no shared socket state.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

const delIfValueScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// NewValkeyProvider creates a Provider and pings the target so bad credentials fail fast.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	normaliseDurations(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(pingCtx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.typ != replySimpleString || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.typ {
	case replyNil:
		return nil, ErrCacheMiss
	case replyBulkString:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected valkey reply type %q for GET", reply.typ)
	}
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, setArgs(key, value, ttl, false)...)
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	switch reply.typ {
	case replySimpleString:
		return true, nil
	case replyNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SET NX response type: %s", reply.typ)
	}
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// DelIfValue atomically removes key when it still holds value.
func (p *ValkeyProvider) DelIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	reply, err := p.do(ctx, "EVAL", delIfValueScript, "1", key, value)
	if err != nil {
		return false, err
	}
	if reply.typ != replyInteger {
		return false, fmt.Errorf("unexpected EVAL response type: %s", reply.typ)
	}
	return string(reply.data) != "0", nil
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []any {
	args := []any{"SET", key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

// do sends one command, retrying transient network failures with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, args ...any) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.roundTrip(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == p.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, args []any) (respReply, error) {
	vc, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer vc.close()

	if err := p.bootstrap(vc); err != nil {
		return respReply{}, err
	}
	if err := vc.write(args...); err != nil {
		return respReply{}, err
	}
	return vc.readReply()
}

func (p *ValkeyProvider) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &valkeyConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cfg:    p.cfg,
	}, nil
}

func (p *ValkeyProvider) bootstrap(vc *valkeyConn) error {
	if p.cfg.Password != "" {
		args := []any{"AUTH"}
		if p.cfg.Username != "" {
			args = append(args, p.cfg.Username)
		}
		args = append(args, p.cfg.Password)
		if err := vc.expectOK(args...); err != nil {
			return fmt.Errorf("auth failed: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := vc.expectOK("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return fmt.Errorf("select failed: %w", err)
		}
	}
	return nil
}

// replyType enumerates the subset of RESP types needed by the provider.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// valkeyConn wraps a network connection with RESP helpers.
type valkeyConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	cfg    ValkeyConfig
}

func (vc *valkeyConn) close() {
	_ = vc.conn.Close()
}

func (vc *valkeyConn) expectOK(args ...any) error {
	if err := vc.write(args...); err != nil {
		return err
	}
	reply, err := vc.readReply()
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

// write encodes args as a RESP array of bulk strings. Args must be string or []byte.
func (vc *valkeyConn) write(args ...any) error {
	if err := vc.conn.SetWriteDeadline(time.Now().Add(vc.cfg.WriteTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(vc.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		var part []byte
		switch v := arg.(type) {
		case string:
			part = []byte(v)
		case []byte:
			part = v
		default:
			return fmt.Errorf("unsupported RESP argument %T", arg)
		}
		fmt.Fprintf(vc.writer, "$%d\r\n", len(part))
		vc.writer.Write(part)
		vc.writer.WriteString("\r\n")
	}
	return vc.writer.Flush()
}

func (vc *valkeyConn) readReply() (respReply, error) {
	if err := vc.conn.SetReadDeadline(time.Now().Add(vc.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := vc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := vc.readLine()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		return respReply{typ: replySimpleString, data: line}, nil
	case '-':
		return respReply{}, errors.New(string(line))
	case ':':
		return respReply{typ: replyInteger, data: line}, nil
	case '_':
		return respReply{typ: replyNil}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(vc.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, fmt.Errorf("invalid line termination")
		}
		return respReply{typ: replyBulkString, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (vc *valkeyConn) readLine() ([]byte, error) {
	line, err := vc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func normaliseDurations(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if remaining < d {
			return remaining
		}
	}
	return d
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func shouldRetry(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
