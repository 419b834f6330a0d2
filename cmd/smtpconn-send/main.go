// Command smtpconn-send submits a single message to an SMTP/LMTP server
// using the client package, for manual testing against a real relay.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smtpconn-send:", err)
		os.Exit(1)
	}
}

func run() error {
	host := flag.String("host", "", "SMTP/LMTP server host")
	port := flag.Int("port", 25, "server port")
	from := flag.String("from", "", "envelope sender")
	to := flag.String("to", "", "comma-separated envelope recipients")
	lmtp := flag.Bool("lmtp", false, "speak LMTP instead of SMTP")
	secure := flag.Bool("secure", false, "connect with implicit TLS")
	requireTLS := flag.Bool("require-tls", false, "fail if STARTTLS is unavailable")
	insecureSkipVerify := flag.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	user := flag.String("user", "", "AUTH username")
	pass := flag.String("pass", "", "AUTH password")
	flag.Parse()

	if *host == "" || *from == "" || *to == "" {
		flag.Usage()
		return fmt.Errorf("-host, -from, and -to are required")
	}

	opts := []client.Option{
		client.WithPort(*port),
		client.WithSecure(*secure),
		client.WithRequireTLS(*requireTLS),
		client.WithLMTP(*lmtp),
		client.WithLogger(slog.Default()),
	}
	if *insecureSkipVerify {
		opts = append(opts, client.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}

	cfg := client.NewConfig(*host, opts...)
	conn := client.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if *user != "" {
		if err := conn.Login(ctx, client.Credentials{User: *user, Pass: *pass}); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	env := smtpconn.Envelope{From: *from, To: strings.Split(*to, ",")}
	result, err := conn.Send(ctx, env, os.Stdin)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("accepted: %v\nrejected: %v\nresponse: %s\n", result.Accepted, result.Rejected, result.Response)

	return conn.Quit(ctx)
}
