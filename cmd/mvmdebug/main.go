package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

func main() {
	var (
		imageFile = flag.String("image", "", "Path to bytecode image file")
		plain     = flag.Bool("plain", false, "Use the raw-terminal prompt instead of the full-screen TUI")
	)
	flag.Parse()

	if *imageFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: mvmdebug -image <file.mvm> [-plain]")
		os.Exit(1)
	}

	data, err := os.ReadFile(*imageFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sess, err := newSession(*imageFile, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.close()

	// The full-screen TUI needs a real terminal; fall back to the raw-mode
	// prompt when stdout is a pipe or the user asked for it.
	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		err = runPlain(sess)
	} else {
		err = runTUI(sess)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runPlain drives the session through a raw-mode line reader, for terminals
// (or pipes) where the bubbletea program loop is unavailable.
func runPlain(sess *session) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, oldState)
	}

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "(mvm) ")

	fmt.Fprint(t, sess.summary())
	fmt.Fprintln(t, "type 'help' for commands")
	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		out, quit := sess.exec(line)
		fmt.Fprint(t, out)
		if quit {
			return nil
		}
	}
}
