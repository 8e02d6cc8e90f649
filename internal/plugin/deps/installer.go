package deps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/plugforge/internal/integration/process"
)

// Runner runs a command to completion. *process.Supervisor implements it.
type Runner interface {
	Run(ctx context.Context, name string, cmd *exec.Cmd) (*process.Result, error)
}

// NPMInstaller installs npm packages under Prefix/node_modules.
type NPMInstaller struct {
	// Command is the npm executable, "npm" when empty.
	Command string
	// Prefix is the directory holding node_modules.
	Prefix string
	Runner Runner
}

// Installed reads name and version from every package.json directly
// below node_modules, including scoped packages.
func (n *NPMInstaller) Installed(ctx context.Context) (map[string]string, error) {
	root := filepath.Join(n.Prefix, "node_modules")
	out := make(map[string]string)

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node_modules: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasPrefix(e.Name(), "@") {
			scoped, err := os.ReadDir(filepath.Join(root, e.Name()))
			if err != nil {
				continue
			}
			for _, s := range scoped {
				if s.IsDir() {
					dirs = append(dirs, filepath.Join(root, e.Name(), s.Name()))
				}
			}
			continue
		}
		dirs = append(dirs, filepath.Join(root, e.Name()))
	}

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err != nil {
			continue
		}
		name := gjson.GetBytes(data, "name").String()
		version := gjson.GetBytes(data, "version").String()
		if name != "" && version != "" {
			out[name] = version
		}
	}
	return out, nil
}

// Install runs "npm install --prefix <Prefix> name[@range]".
func (n *NPMInstaller) Install(ctx context.Context, spec Spec) error {
	arg := spec.Name
	if r := spec.Range(); r != "" {
		arg += "@" + r
	}
	if err := os.MkdirAll(n.Prefix, 0o755); err != nil {
		return fmt.Errorf("create npm prefix: %w", err)
	}
	cmd := exec.Command(commandOr(n.Command, "npm"),
		"install", "--no-audit", "--no-fund", "--no-save", "--prefix", n.Prefix, arg)
	_, err := n.Runner.Run(ctx, "npm install "+arg, cmd)
	return err
}

// LuaRocksInstaller installs rocks with luarocks, optionally into Tree.
type LuaRocksInstaller struct {
	// Command is the luarocks executable, "luarocks" when empty.
	Command string
	// Tree is passed as --tree when set.
	Tree   string
	Runner Runner
}

func (l *LuaRocksInstaller) args(args ...string) []string {
	if l.Tree != "" {
		return append([]string{"--tree", l.Tree}, args...)
	}
	return args
}

// Installed parses "luarocks list --porcelain".
func (l *LuaRocksInstaller) Installed(ctx context.Context) (map[string]string, error) {
	cmd := exec.Command(commandOr(l.Command, "luarocks"), l.args("list", "--porcelain")...)
	res, err := l.Runner.Run(ctx, "luarocks list", cmd)
	if err != nil {
		return nil, fmt.Errorf("list rocks: %w", err)
	}
	return parsePorcelain(res.Output), nil
}

// parsePorcelain reads lines of "name\tversion\tstatus\ttree".
func parsePorcelain(out string) map[string]string {
	rocks := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) >= 2 && fields[0] != "" {
			rocks[fields[0]] = fields[1]
		}
	}
	return rocks
}

// Install runs "luarocks install name [version]". luarocks takes an exact
// version only, so other constraints install the latest rock.
func (l *LuaRocksInstaller) Install(ctx context.Context, spec Spec) error {
	args := l.args("install", spec.Name)
	if spec.Op == "==" {
		args = append(args, spec.Version)
	}
	cmd := exec.Command(commandOr(l.Command, "luarocks"), args...)
	_, err := l.Runner.Run(ctx, "luarocks install "+spec.Name, cmd)
	return err
}

func commandOr(cmd, def string) string {
	if cmd == "" {
		return def
	}
	return cmd
}
