package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCP_ConnectAndReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 hello\r\n"))
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		if string(buf[:n]) != "EHLO test\r\n" {
			t.Errorf("server got %q", buf[:n])
		}
		conn.Write([]byte("250 ok\r\n"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCP()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "127.0.0.1", addr.Port, "", nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ev := <-tr.Events()
	if ev.Type != EventData || string(ev.Data) != "220 hello\r\n" {
		t.Fatalf("first event = %+v", ev)
	}

	if _, err := tr.Write([]byte("EHLO test\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ev = <-tr.Events()
	if ev.Type != EventData || string(ev.Data) != "250 ok\r\n" {
		t.Fatalf("second event = %+v", ev)
	}

	tr.Close(false)
	<-serverDone
}

func TestTCP_RemoteCloseEmitsEndOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCP()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "127.0.0.1", addr.Port, "", nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var sawEnd int
	for ev := range tr.Events() {
		if ev.Type == EventEnd {
			sawEnd++
		}
	}
	if sawEnd != 1 {
		t.Errorf("saw %d EventEnd, want exactly 1", sawEnd)
	}
}

func TestTCP_Secure(t *testing.T) {
	tr := NewTCP()
	if tr.Secure() {
		t.Error("unconnected transport should not report secure")
	}
}
