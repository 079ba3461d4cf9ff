package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// ExecLoader binds hook paths to external executables. Relative paths are
// resolved against BaseDir.
type ExecLoader struct {
	BaseDir string
	// Env is appended to the environment of every hook process.
	Env []string
}

func (l ExecLoader) Load(path string) (Handler, error) {
	resolved := path
	if !filepath.IsAbs(resolved) && l.BaseDir != "" {
		resolved = filepath.Join(l.BaseDir, resolved)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", resolved)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("%s is not executable", resolved)
	}
	return ExecHandler{Path: resolved, Env: l.Env}, nil
}

// ExecHandler runs an executable with the hook context as JSON on stdin.
// Anything the process prints to stdout must be JSON and becomes the hook
// result. A non-zero exit status is a hook error carrying stderr.
type ExecHandler struct {
	Path string
	Env  []string
}

func (h ExecHandler) Handle(ctx context.Context, hc *HookContext) (interface{}, error) {
	in, err := json.Marshal(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize hook context %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.Path)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Env = append(cmd.Env,
		"BOURNE_HOOK_POINT="+hc.Point.String(),
		"BOURNE_DIRECTION="+string(hc.Direction),
		"BOURNE_OBJECT="+hc.ObjectType,
		"BOURNE_RUN_ID="+hc.RunID,
	)
	if err = cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("hook %s printed invalid JSON", h.Path)
	}
	return json.RawMessage(out), nil
}
