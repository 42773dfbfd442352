package eos_io

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// MaxPasswordLength defines the maximum allowed password length
const MaxPasswordLength = 256

// PromptSecret reads a secret without echo when stdin is a terminal,
// or a single line from stdin when it is piped.
func PromptSecret(rc *RuntimeContext, label string) (string, error) {
	logger := otelzap.Ctx(rc.Ctx)
	fd := int(os.Stdin.Fd())

	var value string
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if errors.Is(err, io.EOF) {
			return "", eos_err.NewUserCancelledError("read " + label)
		}
		if err != nil {
			return "", cerr.Wrapf(err, "read %s", label)
		}
		value = string(raw)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", cerr.Wrapf(err, "read %s from stdin", label)
		}
		value = strings.TrimRight(line, "\r\n")
	}

	if strings.TrimSpace(value) == "" {
		return "", eos_err.NewValidationError(label + " cannot be empty")
	}
	if len(value) > MaxPasswordLength {
		return "", eos_err.NewValidationError(fmt.Sprintf("%s too long (max %d)", label, MaxPasswordLength))
	}

	logger.Debug("Secret read from input", zap.String("label", label))
	return value, nil
}
