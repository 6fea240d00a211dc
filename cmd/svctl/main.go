// Command svctl is a command-line client for the streamvault API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ---- session store ----

type sessionFile struct {
	Cookie    string    `json:"cookie"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "streamvault")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "streamvault")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s sessionFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func loadSession() (sessionFile, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return sessionFile{}, errors.New("not signed in (run login)")
	}
	var s sessionFile
	if err := json.Unmarshal(b, &s); err != nil {
		return sessionFile{}, err
	}
	if s.Cookie == "" || time.Now().After(s.ExpiresAt) {
		return sessionFile{}, errors.New("session expired (run login)")
	}
	return s, nil
}

func clearSession() error {
	if err := os.Remove(sessionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `svctl CLI
Usage:
  svctl [-addr URL] <cmd> [args]

Commands:
  version
  register  -u <username> -e <email> -p <password>
  login     -e <email> -p <password>          (saves session)
  logout
  me
  ls        [-details] [movie|show|anime]     (no kind lists raw entries)
  add       <kind> <id>
  rm        <kind> <id>
  toggle    <kind> <id>
  has       <kind> <id>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	cookie := flag.String("cookie", "sv_session", "session cookie name")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, flag.Args(), *addr, *cookie, *timeout, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		fail(err)
	}
}

var errUsage = errors.New("usage")

// run executes one subcommand and writes its result to out.
func run(ctx context.Context, args []string, addr, cookieName string, timeout time.Duration, out io.Writer) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Fprintf(out, "svctl %s (%s)\n", version, buildDate)
		return nil

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		u := fs.String("u", "", "username")
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *u == "" || *e == "" || *p == "" {
			return errors.New("need -u, -e and -p")
		}
		user, err := newClient(addr, cookieName, "", timeout).register(ctx, *u, *e, *p)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, user.ID)
		return nil

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *e == "" || *p == "" {
			return errors.New("need -e and -p")
		}
		s, user, err := newClient(addr, cookieName, "", timeout).login(ctx, *e, *p)
		if err != nil {
			return err
		}
		if err := saveSession(s); err != nil {
			return err
		}
		fmt.Fprintf(out, "signed in as %s\n", user.Username)
		return nil

	case "logout":
		s, err := loadSession()
		if err != nil {
			// nothing to revoke; make sure no stale file lingers
			return clearSession()
		}
		var ae *apiError
		if err := newClient(addr, cookieName, s.Cookie, timeout).logout(ctx); err != nil && !(errors.As(err, &ae) && ae.Status == 401) {
			return err
		}
		if err := clearSession(); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	}

	s, err := loadSession()
	if err != nil {
		return err
	}
	c := newClient(addr, cookieName, s.Cookie, timeout)

	switch cmd {
	case "me":
		u, err := c.me(ctx)
		if err != nil {
			return err
		}
		printJSON(out, u)

	case "ls":
		fs := flag.NewFlagSet("ls", flag.ContinueOnError)
		details := fs.Bool("details", false, "expand catalog details")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			entries, err := c.entries(ctx)
			if err != nil {
				return err
			}
			printJSON(out, entries)
			return nil
		}
		kind := fs.Arg(0)
		if *details {
			items, err := c.details(ctx, kind)
			if err != nil {
				return err
			}
			printJSON(out, items)
			return nil
		}
		ids, err := c.ids(ctx, kind)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}

	case "add", "rm", "toggle", "has":
		if len(rest) != 2 {
			return errUsage
		}
		var (
			m   any
			err error
		)
		switch cmd {
		case "add":
			m, err = c.add(ctx, rest[0], rest[1])
		case "rm":
			m, err = c.remove(ctx, rest[0], rest[1])
		case "toggle":
			m, err = c.toggle(ctx, rest[0], rest[1])
		case "has":
			m, err = c.has(ctx, rest[0], rest[1])
		}
		if err != nil {
			return err
		}
		printJSON(out, m)

	default:
		return errUsage
	}
	return nil
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", ae.Status, ae.Code, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
