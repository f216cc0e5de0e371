// Command courier is a rider-side CLI for the fulfillment API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"

	httpserver "github.com/and161185/alurea-fulfillment/internal/server/http"
)

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `courier CLI
Usage:
  courier [-addr URL] [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  login    -email <email> -p <password>      (sends a one-time code)
  verify   -email <email> -code <code>       (saves token)
  logout
  orders   [-status <status>]
  start    -id <order id>
  deliver  -id <order id> -photo <file>
  push     -lat <lat> -lon <lon>
  watch                                       (prints position frames)
  stream                                      (sends "lat lon" lines from stdin)
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	default:
		fail(err)
	}
}

// run dispatches subcommands.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	// global flags
	gfs := flag.NewFlagSet("courier", flag.ContinueOnError)
	gfs.SetOutput(io.Discard)
	addr := gfs.String("addr", "http://localhost:8080", "server base URL")
	caPath := gfs.String("cacert", "", "CA cert (PEM)")
	insecure := gfs.Bool("insecure", false, "skip cert verify (dev)")
	if err := gfs.Parse(args); err != nil {
		return err
	}
	if gfs.NArg() < 1 {
		return errUsage
	}
	cmd, rest := gfs.Arg(0), gfs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "courier %s (%s)\n", version, buildDate)
		return nil
	}
	if cmd == "logout" {
		return removeToken()
	}

	tlsCfg, err := loadTLS(*caPath, *insecure)
	if err != nil {
		return err
	}

	var token string
	switch cmd {
	case "login", "verify":
	default:
		tf, err := loadToken(time.Now())
		if err != nil {
			return err
		}
		token = tf.AccessToken
	}
	c, err := newClient(*addr, token, tlsCfg)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {

	case "login":
		email := fs.String("email", "", "email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" || *p == "" {
			return errors.New("need -email and -p")
		}
		if err := withTimeout(ctx, func(ctx context.Context) error { return c.Login(ctx, *email, *p) }); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "verification code sent; run: courier verify -email", *email, "-code <code>")

	case "verify":
		email := fs.String("email", "", "email")
		code := fs.String("code", "", "one-time code")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" || *code == "" {
			return errors.New("need -email and -code")
		}
		var s *session
		err := withTimeout(ctx, func(ctx context.Context) (err error) {
			s, err = c.Verify(ctx, *email, *code)
			return err
		})
		if err != nil {
			return err
		}
		if err := saveToken(tokenFile{AccessToken: s.Token, ExpiresAt: s.ExpiresAt, Email: s.User.Email, Role: s.User.Role}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "logged in as %s (%s), token valid until %s\n",
			s.User.Email, s.User.Role, s.ExpiresAt.UTC().Format(time.RFC3339))

	case "orders":
		st := fs.String("status", "", "filter by status")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		var list []order
		err := withTimeout(ctx, func(ctx context.Context) (err error) {
			list, err = c.Orders(ctx, *st)
			return err
		})
		if err != nil {
			return err
		}
		printJSON(stdout, list)

	case "start":
		id := fs.String("id", "", "order id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := checkID(*id); err != nil {
			return err
		}
		var o *order
		err := withTimeout(ctx, func(ctx context.Context) (err error) {
			o, err = c.StartDelivery(ctx, *id)
			return err
		})
		if err != nil {
			return err
		}
		printJSON(stdout, o)

	case "deliver":
		id := fs.String("id", "", "order id")
		photo := fs.String("photo", "", "proof photo file")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := checkID(*id); err != nil {
			return err
		}
		if *photo == "" {
			return errors.New("need -photo")
		}
		f, err := os.Open(*photo)
		if err != nil {
			return err
		}
		defer f.Close()
		var o *order
		err = withTimeout(ctx, func(ctx context.Context) (err error) {
			o, err = c.Deliver(ctx, *id, *photo, f)
			return err
		})
		if err != nil {
			return err
		}
		printJSON(stdout, o)

	case "push":
		lat := fs.String("lat", "", "latitude")
		lon := fs.String("lon", "", "longitude")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		la, lo, err := parseCoords(*lat, *lon)
		if err != nil {
			return err
		}
		var loc *location
		err = withTimeout(ctx, func(ctx context.Context) (err error) {
			loc, err = c.Push(ctx, la, lo)
			return err
		})
		if err != nil {
			return err
		}
		printJSON(stdout, loc)

	case "watch":
		conn, err := c.Socket(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		return watch(ctx, conn, stdout)

	case "stream":
		conn, err := c.Socket(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		return stream(ctx, conn, stdin, stdout)

	default:
		return errUsage
	}
	return nil
}

// watch prints every frame until the server closes the socket or ctx ends.
func watch(ctx context.Context, conn *websocket.Conn, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg socketFrame
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		printFrame(out, msg)
	}
}

// stream sends one update per "lat lon" input line and echoes the server's frames.
func stream(ctx context.Context, conn *websocket.Conn, in io.Reader, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	readErr := make(chan error, 1)
	go func() { readErr <- watch(ctx, conn, out) }()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(f) != 2 {
			return fmt.Errorf("bad line %q: want \"lat lon\"", line)
		}
		lat, lon, err := parseCoords(f[0], f[1])
		if err != nil {
			return err
		}
		msg := socketFrame{Type: httpserver.MsgUpdateLocation, Lat: lat, Lon: lon}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case err := <-readErr:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

// ---- helpers ----

func parseCoords(lat, lon string) (float64, float64, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || la < -90 || la > 90 {
		return 0, 0, fmt.Errorf("bad latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return 0, 0, fmt.Errorf("bad longitude %q", lon)
	}
	return la, lo, nil
}

func checkID(id string) error {
	if id == "" {
		return errors.New("need -id")
	}
	if _, err := u.FromString(id); err != nil {
		return fmt.Errorf("bad order id %q: %w", id, err)
	}
	return nil
}

func withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return fn(ctx)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printFrame(w io.Writer, msg socketFrame) {
	switch msg.Type {
	case httpserver.MsgError:
		fmt.Fprintf(w, "error: %s\n", msg.Error)
	default:
		ts := ""
		if !msg.UpdatedAt.IsZero() {
			ts = msg.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s %.6f %.6f %s\n", msg.Type, msg.Lat, msg.Lon, ts)
	}
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
