package proxypool

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/txthinking/socks5"
	"golang.org/x/net/proxy"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const (
	socks5Ver5       = 0x05
	socks5MethodNone = 0x00
	socks5CmdConnect = 0x01

	gatewayAttempts = 3
)

// Gateway is a local SOCKS5 endpoint whose CONNECT requests egress through
// a working pool proxy chosen per connection. It lets automation tools that
// cannot rotate proxies themselves share the pool.
type Gateway struct {
	addr        string
	manager     *Manager
	country     *string
	dialTimeout time.Duration
}

// NewGateway creates a Gateway listening on addr. With a nil manager the
// gateway dials targets directly.
func NewGateway(addr string, manager *Manager, country *string) *Gateway {
	return &Gateway{addr: addr, manager: manager, country: country, dialTimeout: 15 * time.Second}
}

// Run listens on the configured address until ctx is done
func (g *Gateway) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	log.WithField("addr", l.Addr().String()).Info("proxy gateway listening")
	return g.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done
func (g *Gateway) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("gateway accept failed")
			continue
		}

		go func() {
			defer conn.Close()
			if err := g.handle(ctx, conn); err != nil {
				log.WithError(err).Debug("gateway connection closed")
			}
		}()
	}
}

func (g *Gateway) handle(ctx context.Context, conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	// method negotiation: VER NMETHODS METHODS
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return err
	}
	if head[0] != socks5Ver5 {
		return fmt.Errorf("unsupported version: %d", head[0])
	}
	methods := make([]byte, int(head[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}
	if _, err := conn.Write([]byte{socks5Ver5, socks5MethodNone}); err != nil {
		return err
	}

	// request: VER CMD RSV ATYP DST.ADDR DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return err
	}

	host, err := readAddr(conn, req[3])
	if err != nil {
		return err
	}
	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return err
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(portBuf[0])<<8|int(portBuf[1])))

	if req[1] != socks5CmdConnect {
		return reply(conn, socks5.RepCommandNotSupported)
	}

	upstream, err := g.dial(ctx, target)
	if err != nil {
		_ = reply(conn, socks5.RepHostUnreachable)
		return err
	}
	defer upstream.Close()

	if err := reply(conn, socks5.RepSuccess); err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(upstream, conn)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		close(done)
	}()
	_, _ = io.Copy(conn, upstream)
	<-done
	return nil
}

// dial tries up to gatewayAttempts pool proxies, falling back to a direct
// connection only when no manager is configured
func (g *Gateway) dial(ctx context.Context, target string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, g.dialTimeout)
	defer cancel()

	if g.manager == nil {
		d := &net.Dialer{}
		return d.DialContext(ctx, "tcp", target)
	}

	var lastErr error
	var current *domain.Proxy
	for i := 0; i < gatewayAttempts; i++ {
		var (
			p   *domain.Proxy
			err error
		)
		if current == nil {
			p, err = g.manager.Select(ctx, g.country)
		} else {
			p, err = g.manager.Rotate(ctx, current)
		}
		if err != nil {
			return nil, err
		}
		if p == nil {
			break
		}
		current = p

		dialer, err := Dialer(p)
		if err != nil {
			lastErr = err
			continue
		}
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no working proxy available")
	}
	return nil, lastErr
}

func readAddr(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case socks5.ATYPIPv4:
		ip := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, ip); err != nil {
			return "", err
		}
		return net.IP(ip).String(), nil
	case socks5.ATYPIPv6:
		ip := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(r, ip); err != nil {
			return "", err
		}
		return net.IP(ip).String(), nil
	case socks5.ATYPDomain:
		n := make([]byte, 1)
		if _, err := io.ReadFull(r, n); err != nil {
			return "", err
		}
		name := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, name); err != nil {
			return "", err
		}
		return string(name), nil
	}
	return "", fmt.Errorf("unsupported address type: %d", atyp)
}

// reply writes a SOCKS5 reply with an unspecified IPv4 bind address
func reply(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{socks5Ver5, rep, 0x00, socks5.ATYPIPv4, 0, 0, 0, 0, 0, 0})
	return err
}

// Dialer returns a dialer whose connections egress through p
func Dialer(p *domain.Proxy) (proxy.ContextDialer, error) {
	base := &net.Dialer{Timeout: 15 * time.Second}
	if p == nil {
		return base, nil
	}

	switch p.Type {
	case domain.ProxyTypeSOCKS5:
		var auth *proxy.Auth
		if p.Username != nil && *p.Username != "" {
			auth = &proxy.Auth{User: *p.Username}
			if p.Password != nil {
				auth.Password = *p.Password
			}
		}
		d, err := proxy.SOCKS5("tcp", p.Addr(), auth, base)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		return cd, nil
	case domain.ProxyTypeHTTP, "":
		return &connectDialer{proxy: p, base: base}, nil
	}
	return nil, fmt.Errorf("unsupported proxy type %q", p.Type)
}

// connectDialer tunnels through an HTTP proxy with CONNECT
type connectDialer struct {
	proxy *domain.Proxy
	base  *net.Dialer
}

func (d *connectDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.base.DialContext(ctx, network, d.proxy.Addr())
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n"
	if d.proxy.Username != nil && *d.proxy.Username != "" {
		pass := ""
		if d.proxy.Password != nil {
			pass = *d.proxy.Password
		}
		cred := base64.StdEncoding.EncodeToString([]byte(*d.proxy.Username + ":" + pass))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := io.WriteString(conn, req); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT returned %s", resp.Status)
	}
	return conn, nil
}
