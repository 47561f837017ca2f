// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader fetches dataset archives and unpacks them, showing a progress bar.
package downloader

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ShowProgressBar controls whether downloads display a progress bar.
var ShowProgressBar = true

// Download file from url and save it at the given path.
// It creates the directory of filePath if it doesn't yet exist.
func Download(url, filePath string) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	if err = os.MkdirAll(path.Dir(filePath), 0777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for the path %q", path.Dir(filePath))
	}
	resp, err := http.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: HTTP status %s", url, resp.Status)
	}

	// Write to a temporary file first, so an interrupted download is not mistaken for a complete one.
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	var dst io.Writer = file
	var bar *progressbar.ProgressBar
	if ShowProgressBar {
		bar = progressbar.DefaultBytes(resp.ContentLength, path.Base(filePath))
		dst = io.MultiWriter(file, bar)
	}
	size, err = io.Copy(dst, resp.Body)
	if bar != nil {
		_ = bar.Close()
		fmt.Println()
	}
	if err != nil {
		_ = file.Close()
		return 0, errors.Wrapf(err, "downloading %q to %q", url, tmpPath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed renaming %q to %q", tmpPath, filePath)
	}
	klog.V(1).Infof("downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// Untar file into baseDir, using decompression flags according to suffix: .gz/.tgz for gzip, .bz2 for bzip2.
func Untar(baseDir, tarFile string) error {
	compressionFlag := ""
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		compressionFlag = "z"
	} else if strings.HasSuffix(tarFile, ".bz2") {
		compressionFlag = "j"
	}
	cmd := exec.Command("tar", fmt.Sprintf("x%sf", compressionFlag), tarFile)
	cmd.Dir = baseDir
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to run %q", cmd)
	}
	return nil
}

// DownloadAndUntarIfMissing downloads tarFile from url, if the file is not there yet, and then untars it
// into baseDir, if targetUntarDir is missing.
//
// Relative tarFile and targetUntarDir are taken relative to baseDir.
func DownloadAndUntarIfMissing(url, baseDir, tarFile, targetUntarDir string) error {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return err
	}
	if !path.IsAbs(tarFile) {
		tarFile = path.Join(baseDir, tarFile)
	}
	if !path.IsAbs(targetUntarDir) {
		targetUntarDir = path.Join(baseDir, targetUntarDir)
	}
	if found, err := fsutil.FileExists(targetUntarDir); err != nil {
		return err
	} else if found {
		return nil
	}
	if found, err := fsutil.FileExists(tarFile); err != nil {
		return err
	} else if !found {
		fmt.Printf("Downloading %s ...\n", url)
		if _, err = Download(url, tarFile); err != nil {
			return err
		}
	}
	if err = Untar(baseDir, tarFile); err != nil {
		return err
	}
	if found, err := fsutil.FileExists(targetUntarDir); err != nil {
		return err
	} else if !found {
		return errors.Errorf("downloaded from %q and untar'ed %q, but didn't get directory %q", url, tarFile, targetUntarDir)
	}
	return nil
}
