package wire

import (
	"bytes"
	"testing"
)

func TestEncoder_SimpleBody(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	if _, err := e.Write([]byte("hello\r\nworld\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "hello\r\nworld\r\n.\r\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestEncoder_DotStuffing(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Write([]byte(".leading dot\r\nnormal\r\n..already doubled\r\n"))
	e.Close()
	want := "..leading dot\r\nnormal\r\n...already doubled\r\n.\r\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestEncoder_NormalizesBareLF(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Write([]byte("line one\nline two\n"))
	e.Close()
	want := "line one\r\nline two\r\n.\r\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestEncoder_NoTrailingNewlineBeforeTerminator(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Write([]byte("no newline at end"))
	e.Close()
	want := "no newline at end\r\n.\r\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestEncoder_ByteCounts(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	body := []byte(".stuffed\r\n")
	e.Write(body)
	if e.InByteCount() != int64(len(body)) {
		t.Errorf("InByteCount() = %d, want %d", e.InByteCount(), len(body))
	}
	e.Close()
	if e.OutByteCount() != int64(buf.Len()) {
		t.Errorf("OutByteCount() = %d, want %d", e.OutByteCount(), buf.Len())
	}
}

func TestEncoder_CloseIdempotent(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Write([]byte("body\r\n"))
	if err := e.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	n := buf.Len()
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if buf.Len() != n {
		t.Error("second Close should not write anything more")
	}
}

func TestEncoder_WriteAfterCloseFails(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Close()
	if _, err := e.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestEncoder_SplitAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Write([]byte(".lead"))
	e.Write([]byte("ing\r\n"))
	e.Close()
	want := "..leading\r\n.\r\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
