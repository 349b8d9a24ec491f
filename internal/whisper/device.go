package whisper

import (
	"os/exec"
)

// Device is the compute device a model handle is bound to
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// DetectDevice resolves the configured device preference to a concrete
// device. "auto" picks the accelerator when one is visible, otherwise CPU.
// The result is fixed for the lifetime of each handle built from it.
func DetectDevice(preference string) Device {
	switch preference {
	case "cuda":
		return DeviceCUDA
	case "cpu":
		return DeviceCPU
	default:
		if acceleratorPresent() {
			return DeviceCUDA
		}
		return DeviceCPU
	}
}

// acceleratorPresent reports whether an NVIDIA GPU is visible to this host.
// nvidia-smi exiting non-zero means the driver is installed but no usable
// device is attached, so both the lookup and the run must succeed.
func acceleratorPresent() bool {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	return exec.Command(path, "--list-gpus").Run() == nil
}
