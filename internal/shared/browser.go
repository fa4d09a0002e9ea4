package shared

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

var getRuntime = func() string { return runtime.GOOS }

var startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }

// OpenURL hands an http(s) URL, such as a recording's public link, to the system opener.
func OpenURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: not an http url: %q", ErrInvalidArgument, raw)
	}

	var cmd *exec.Cmd
	switch rt := getRuntime(); rt {
	case "darwin":
		cmd = exec.Command("open", u.String())
	case "linux", "freebsd":
		cmd = exec.Command("xdg-open", u.String())
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u.String())
	default:
		return fmt.Errorf("unsupported platform: %s", rt)
	}

	if err := startCommand(cmd); err != nil {
		return fmt.Errorf("failed to open %s: %w", u.Host, err)
	}
	return nil
}
