// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNoAccelerator is returned (wrapped) by NewBackend when a GPU is required but not available.
var ErrNoAccelerator = errors.New("cuda not available")

// CUDAVisibleDevicesEnv is the environment variable restricting the GPUs visible to the process.
const CUDAVisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// NewBackend creates the GoMLX backend configured by cfg.Backend.
//
// If cfg.Device is set, it is exported as CUDA_VISIBLE_DEVICES before the backend is created.
// If cfg.RequireGPU is set, failing to create the backend, or getting a backend that does not run
// on a GPU, returns an error wrapping ErrNoAccelerator.
func NewBackend(cfg *config.Config) (backends.Backend, error) {
	if cfg.Device != "" {
		if err := os.Setenv(CUDAVisibleDevicesEnv, cfg.Device); err != nil {
			return nil, errors.Wrapf(err, "setting %s=%q", CUDAVisibleDevicesEnv, cfg.Device)
		}
	}
	var backend backends.Backend
	err := exceptions.TryCatch[error](func() {
		var err error
		backend, err = backends.NewWithConfig(cfg.Backend)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		if cfg.RequireGPU {
			return nil, errors.Wrapf(ErrNoAccelerator, "creating backend %q: %v", cfg.Backend, err)
		}
		return nil, errors.WithMessagef(err, "creating backend %q", cfg.Backend)
	}
	if cfg.RequireGPU && !runsOnGPU(cfg.Backend, backend) {
		backend.Finalize()
		return nil, errors.Wrapf(ErrNoAccelerator, "backend %q (%s) does not run on a GPU", backend.Name(), backend.Description())
	}
	klog.V(1).Infof("backend: %s, %s", backend.Name(), backend.Description())
	return backend, nil
}

// gpuPlugins are the PJRT plugins running on GPUs.
var gpuPlugins = []string{"cuda", "rocm"}

// IsGPUConfig reports whether a "<backend>:<plugin>" backend configuration selects a GPU PJRT plugin.
// The plugin can be given by name ("cuda") or by path ("/opt/pjrt/pjrt_c_api_cuda_plugin.so").
func IsGPUConfig(backendConfig string) bool {
	_, plugin, found := strings.Cut(backendConfig, ":")
	if !found {
		return false
	}
	plugin, _, _ = strings.Cut(plugin, ",")
	plugin = strings.ToLower(filepath.Base(plugin))
	return slices.ContainsFunc(gpuPlugins, func(gpu string) bool {
		return plugin == gpu || strings.HasPrefix(plugin, "pjrt_c_api_"+gpu+"_")
	})
}

// IsGPU reports whether the backend runs on a GPU, according to the "<backend>:<plugin>"
// configuration that prefixes the backend description.
func IsGPU(backend backends.Backend) bool {
	reported, _, _ := strings.Cut(backend.Description(), " ")
	return IsGPUConfig(reported)
}

// runsOnGPU uses the plugin named in the requested configuration, and the one the backend
// reports if the configuration leaves the plugin to be selected automatically.
func runsOnGPU(requested string, backend backends.Backend) bool {
	if _, plugin, found := strings.Cut(requested, ":"); found && plugin != "" {
		return IsGPUConfig(requested)
	}
	return IsGPU(backend)
}
