package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestResultError(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
		fatal  bool
	}{
		{vk.ErrorOutOfDeviceMemory, core.ErrOutOfMemory, true},
		{vk.ErrorOutOfHostMemory, core.ErrOutOfMemory, true},
		{vk.ErrorDeviceLost, core.ErrDeviceLost, true},
		{vk.ErrorOutOfDate, core.ErrDeviceStale, false},
	}
	for _, tt := range tests {
		t.Run(VulkanResultString(tt.result), func(t *testing.T) {
			err := resultError("vkTest", tt.result)
			if !errors.Is(err, tt.want) {
				t.Fatalf("resultError = %v, want %v", err, tt.want)
			}
			if core.IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", core.IsFatal(err), tt.fatal)
			}
		})
	}
	for _, ok := range []vk.Result{vk.Success, vk.Suboptimal, vk.Timeout} {
		if err := resultError("vkTest", ok); err != nil {
			t.Errorf("resultError(%s) = %v", VulkanResultString(ok), err)
		}
	}
	if err := resultError("vkTest", vk.ErrorExtensionNotPresent); err == nil || core.IsFatal(err) {
		t.Errorf("extension error = %v", err)
	}
}

func TestCString(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("VK_LAYER_KHRONOS_validation\x00\x00\x00"), "VK_LAYER_KHRONOS_validation"},
		{[]byte("abc"), "abc"},
		{[]byte{0, 'x'}, ""},
	}
	for _, tt := range tests {
		if got := cString(tt.in); got != tt.want {
			t.Errorf("cString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := VulkanSafeString("x"); got != "x\x00" {
		t.Errorf("VulkanSafeString = %q", got)
	}
}

func TestSpirvWords(t *testing.T) {
	valid := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	tests := []struct {
		name    string
		code    []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"empty", nil, true},
		{"unaligned", valid[:7], true},
		{"bad magic", []byte{0, 0, 0, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := spirvWords(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("spirvWords() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (len(words) != 2 || words[1] != 0x00010000) {
				t.Errorf("spirvWords() = %#x", words)
			}
		})
	}
}
