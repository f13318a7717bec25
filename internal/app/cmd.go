package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モード。
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合と、先頭がフラグの場合はserveになる。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (serve, migrate, healthcheck)", args[0])
	}
	return cmd, nil
}
