package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptConnectionString reads the Event Hubs connection string from the
// user. On a terminal the input is not echoed, since the string embeds the
// shared access key. Piped input falls back to a plain line read.
func promptConnectionString(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read connection string: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(out, "Event Hubs connection string: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read connection string: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
