// Package envfile loads the key=value pairs behind the --env flag into the
// core.Env bindings exposed to a handler as globalThis.env.
package envfile

import (
	"fmt"
	"os"

	"github.com/subosito/gotenv"

	"github.com/brinkrun/edgefn/internal/core"
)

// Load reads path as a dotenv file and returns its entries as plain vars.
// An empty path is valid and returns an empty, non-nil map, matching the
// CLI's --env flag being optional.
func Load(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening env file %s: %w", path, err)
	}
	defer f.Close()

	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing env file %s: %w", path, err)
	}

	return vars, nil
}

// BuildEnv loads path and wraps the result as a core.Env with no secrets —
// the dev host has no secret-vs-var distinction at the CLI surface, unlike
// the teacher's DB-backed deployments which separate them at rest.
func BuildEnv(path string) (*core.Env, error) {
	vars, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &core.Env{Vars: vars, Secrets: map[string]string{}}, nil
}
