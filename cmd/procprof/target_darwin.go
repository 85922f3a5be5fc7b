package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// checkPermissions requires root, which macOS needs to read the memory of
// other processes.
func checkPermissions() error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("insufficient permissions on macOS, restart the program using `sudo %s`", strings.Join(os.Args, " "))
	}
	return nil
}

// configureTarget runs the target as the user that invoked sudo.
func configureTarget(cmd *exec.Cmd, logger *logrus.Logger) error {
	uid, err := sudoID("SUDO_UID", unix.Geteuid())
	if err != nil {
		return err
	}
	gid, err := sudoID("SUDO_GID", unix.Getegid())
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"uid": uid, "gid": gid}).Info("Running subprocess as the invoking user")

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	return nil
}

func sudoID(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %s=%q: %w", key, v, err)
	}
	return id, nil
}
