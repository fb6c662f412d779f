package main

import (
	"bytes"
	"context"
	"testing"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// runVaultctl lets testdata/script/*.txt fixtures drive the real cobra
// command tree in-process, the same way the CLI itself invokes it, without
// a separate compiled binary.
func runVaultctl(s *script.State, args ...string) (script.WaitFunc, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	runErr := rootCmd.Execute()
	return func(*script.State) (string, string, error) {
		return stdout.String(), stderr.String(), runErr
	}, nil
}

func TestVaultctlScripts(t *testing.T) {
	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
	}
	engine.Cmds["vaultctl"] = script.Command(
		script.CmdUsage{
			Summary: "run the vaultctl command tree in-process",
			Args:    "args...",
		},
		runVaultctl,
	)

	scripttest.Test(t, context.Background(), engine, nil, "testdata/script/*.txt")
}
