package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	mithril "github.com/eugener/mithril/internal"
)

// azureCLICredential reads the cached session of a locally installed Azure
// CLI by shelling out to `az account get-access-token`.
type azureCLICredential struct {
	run func(ctx context.Context, scope string) (stdout, stderr []byte, err error)
}

func newAzureCLICredential() *azureCLICredential {
	return &azureCLICredential{run: runAzCLI}
}

func (c *azureCLICredential) Name() string      { return "azure_cli" }
func (c *azureCLICredential) Refreshable() bool { return true }

// Acquire invokes the CLI and parses its JSON output. A missing az binary
// reports ErrUnavailable; a CLI error (typically "az login" required) is a
// denial.
func (c *azureCLICredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	stdout, stderr, err := c.run(ctx, scope)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return mithril.Token{}, fmt.Errorf("azure_cli: az not installed: %w", mithril.ErrUnavailable)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return mithril.Token{}, fmt.Errorf("azure_cli: az failed: %s: %w",
				firstLine(stderr), mithril.ErrDenied)
		}
		if ctx.Err() != nil {
			return mithril.Token{}, &mithril.NetworkError{Backend: c.Name(), Err: ctx.Err()}
		}
		return mithril.Token{}, fmt.Errorf("azure_cli: run az: %w", err)
	}

	access := gjson.GetBytes(stdout, "accessToken").String()
	if access == "" {
		return mithril.Token{}, fmt.Errorf("azure_cli: az returned no accessToken: %w", mithril.ErrDenied)
	}
	return mithril.NewToken(access, cliTokenTTL(stdout)), nil
}

// cliTokenTTL derives the token lifetime from az output. Newer CLI versions
// emit expires_on as unix seconds; older ones emit expiresOn as a local
// timestamp. Unparseable output falls back to one hour.
func cliTokenTTL(stdout []byte) time.Duration {
	if unix := gjson.GetBytes(stdout, "expires_on").Int(); unix > 0 {
		return time.Until(time.Unix(unix, 0))
	}
	if s := gjson.GetBytes(stdout, "expiresOn").String(); s != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05.000000", s, time.Local); err == nil {
			return time.Until(t)
		}
	}
	return time.Hour
}

// runAzCLI executes the az binary. On Windows az is a batch script and must
// go through cmd.exe.
func runAzCLI(ctx context.Context, scope string) ([]byte, []byte, error) {
	args := []string{"account", "get-access-token", "--scope", scope, "--output", "json"}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", append([]string{"/C", "az"}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, "az", args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// firstLine trims CLI stderr to its first non-empty line for error messages.
func firstLine(b []byte) string {
	for line := range strings.Lines(string(b)) {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return "no error output"
}
