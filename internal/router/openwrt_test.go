package router

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// sshRouter is a minimal SSH server that records exec requests.
type sshRouter struct {
	addr   string
	port   int
	mu     sync.Mutex
	cmds   []string
	output string
	status uint32
}

func startSSHRouter(t *testing.T) *sshRouter {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "root" && string(pass) == "airfi" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r := &sshRouter{addr: host, port: port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn, config)
		}
	}()
	return r
}

func (r *sshRouter) serve(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			return
		}
		go r.session(ch, chReqs)
	}
}

func (r *sshRouter) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		r.mu.Lock()
		r.cmds = append(r.cmds, payload.Command)
		output, status := r.output, r.status
		r.mu.Unlock()

		_, _ = ch.Write([]byte(output))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func (r *sshRouter) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds...)
}

func (r *sshRouter) respond(output string, status uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = output
	r.status = status
}

func (r *sshRouter) client(t *testing.T, password string) *OpenWrtClient {
	t.Helper()
	c, err := NewOpenWrtClient(OpenWrtConfig{
		Address:  r.addr,
		Port:     r.port,
		Username: "root",
		Password: password,
	}, DefaultRule(), nil)
	require.NoError(t, err)
	return c
}

func TestOpenWrtAllowlistAdd(t *testing.T) {
	r := startSSHRouter(t)
	c := r.client(t, "airfi")

	require.NoError(t, c.AllowlistAdd(context.Background(), testMAC))

	cmds := r.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t,
		"iptables -C internet_access -m mac --mac-source aa:bb:cc:dd:ee:ff -j RETURN 2>/dev/null || "+
			"iptables -I internet_access 1 -m mac --mac-source aa:bb:cc:dd:ee:ff -j RETURN",
		cmds[0])
}

func TestOpenWrtAllowlistRemove(t *testing.T) {
	r := startSSHRouter(t)
	c := r.client(t, "airfi")

	require.NoError(t, c.AllowlistRemove(context.Background(), "aa-bb-cc-dd-ee-ff"))

	cmds := r.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t,
		"while iptables -D internet_access -m mac --mac-source aa:bb:cc:dd:ee:ff -j RETURN 2>/dev/null; do :; done",
		cmds[0])
}

func TestOpenWrtCommandFailure(t *testing.T) {
	r := startSSHRouter(t)
	r.respond("iptables: No chain/target/match by that name.\n", 1)
	c := r.client(t, "airfi")

	err := c.AllowlistAdd(context.Background(), testMAC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No chain/target/match")
}

func TestOpenWrtRejectsInvalidMAC(t *testing.T) {
	r := startSSHRouter(t)
	c := r.client(t, "airfi")

	err := c.AllowlistAdd(context.Background(), "aa:bb:cc:dd:ee:ff; reboot")
	require.Error(t, err)
	assert.Empty(t, r.commands(), "nothing may reach the router shell")
}

func TestOpenWrtBadPassword(t *testing.T) {
	r := startSSHRouter(t)
	c := r.client(t, "wrong")

	err := c.AllowlistRemove(context.Background(), testMAC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH handshake failed")
}

func TestOpenWrtTestConnection(t *testing.T) {
	r := startSSHRouter(t)
	c := r.client(t, "airfi")

	r.respond("-N internet_access\n-A internet_access -j DROP\n", 0)
	require.NoError(t, c.TestConnection(context.Background()))
	assert.Equal(t, []string{"iptables -S internet_access"}, r.commands())

	r.respond("-P INPUT ACCEPT\n", 0)
	err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"))
}

func TestNewOpenWrtClientValidation(t *testing.T) {
	_, err := NewOpenWrtClient(OpenWrtConfig{Address: "192.168.1.1", Username: "root"}, DefaultRule(), nil)
	assert.ErrorContains(t, err, "no authentication method")

	_, err = NewOpenWrtClient(OpenWrtConfig{Address: "192.168.1.1", PrivateKey: "not a key"}, DefaultRule(), nil)
	assert.ErrorContains(t, err, "failed to parse private key")

	rule := DefaultRule()
	rule.Chain = "internet_access; reboot"
	_, err = NewOpenWrtClient(OpenWrtConfig{Address: "192.168.1.1", Password: "x"}, rule, nil)
	assert.ErrorContains(t, err, "invalid iptables name")

	c, err := NewOpenWrtClient(OpenWrtConfig{Address: "192.168.1.1", Password: "x"}, DefaultRule(), nil)
	require.NoError(t, err)
	assert.Equal(t, 22, c.config.Port)
}
