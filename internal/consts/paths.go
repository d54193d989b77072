package consts

import (
	"os"
	"path/filepath"
)

const (
	HomeDirName    = ".kahlabot"
	ConfigFileName = "config.yaml"
	LogFileName    = "kahlabot.log"
)

func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, HomeDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFileName)
}

func DefaultLogPath() string {
	return filepath.Join(HomeDir(), "logs", LogFileName)
}
