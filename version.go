package taurus

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
)

// WireVersion names the framing this build speaks. The
// QUIC backend sends it as its stream hello.
const WireVersion = "taurus/1"

// set by -ldflags "-X github.com/glycerine/taurus.LAST_GIT_COMMIT_HASH=..."
var LAST_GIT_COMMIT_HASH string
var NEAREST_GIT_TAG string
var GIT_BRANCH string
var GO_VERSION string

// GetCodeVersion reports the wire version and whatever
// build stamps are available. Without ldflags the commit
// comes from the vcs settings go build records.
func GetCodeVersion(programName string) string {
	commit := LAST_GIT_COMMIT_HASH
	goVersion := GO_VERSION
	if bi, ok := debug.ReadBuildInfo(); ok {
		if goVersion == "" {
			goVersion = bi.GoVersion
		}
		if commit == "" {
			commit = buildSetting(bi, "vcs.revision")
			if buildSetting(bi, "vcs.modified") == "true" {
				commit += "-dirty"
			}
		}
	}
	return fmt.Sprintf("%s speaks %s / commit: %s / nearest-git-tag: %s / branch: %s / go version: %s\n",
		programName, WireVersion, commit, NEAREST_GIT_TAG, GIT_BRANCH, goVersion)
}

func buildSetting(bi *debug.BuildInfo, key string) string {
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Exit1IfVersionReq prints the version and the
// transport modules this binary was linked with, then
// exits, if -version was given.
func Exit1IfVersionReq() {
	for _, a := range os.Args {
		if a == "-version" || a == "--version" {
			fmt.Fprintf(os.Stderr, "%s", GetCodeVersion(os.Args[0]))
			if bi, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(os.Stderr, "module %v %v\n", bi.Main.Path, bi.Main.Version)
				for _, d := range bi.Deps {
					if strings.Contains(d.Path, "quic-go") ||
						strings.Contains(d.Path, "klauspost/compress") ||
						strings.Contains(d.Path, "lz4") {
						fmt.Fprintf(os.Stderr, "  %v %v\n", d.Path, d.Version)
					}
				}
			}
			os.Exit(1)
		}
	}
}
