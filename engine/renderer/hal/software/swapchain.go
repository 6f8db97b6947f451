package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Swapchain struct {
	mu           sync.Mutex
	device       *Device
	extent       hal.Extent
	images       []*Image
	next         uint32
	stale        bool
	stalePresent bool
}

func newSwapchain(d *Device, extent hal.Extent, count uint32) *Swapchain {
	sc := &Swapchain{device: d}
	sc.create(extent, count)
	return sc
}

func (s *Swapchain) create(extent hal.Extent, count uint32) {
	s.extent = extent
	s.images = make([]*Image, count)
	for i := range s.images {
		s.images[i] = &Image{
			label:  fmt.Sprintf("swapchain.%d", i),
			extent: extent,
			format: hal.FormatBGRA8Unorm,
			usage:  hal.ImageUsageTransferDst,
		}
	}
	s.next = 0
}

// MarkStale makes acquire and present report a stale surface until the
// swapchain is recreated, as after a window resize.
func (s *Swapchain) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// FailNextPresent makes only the next present report a stale surface.
func (s *Swapchain) FailNextPresent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalePresent = true
}

func (s *Swapchain) AcquireNextImage(signal hal.Semaphore) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale {
		return 0, fmt.Errorf("acquire: %w", core.ErrDeviceStale)
	}
	sem, err := asSemaphore(signal)
	if err != nil {
		return 0, err
	}
	if err := sem.signal(); err != nil {
		return 0, err
	}
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return index, nil
}

func (s *Swapchain) Present(queue hal.Queue, imageIndex uint32, wait hal.Semaphore) error {
	q, ok := queue.(*Queue)
	if !ok {
		return fmt.Errorf("foreign queue %T: %w", queue, ErrValidation)
	}
	if err := q.checkLocked(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sem, err := asSemaphore(wait)
	if err != nil {
		return err
	}
	if err := sem.consume(); err != nil {
		return err
	}
	if s.stale || s.stalePresent {
		s.stalePresent = false
		return fmt.Errorf("present: %w", core.ErrDeviceStale)
	}
	if int(imageIndex) >= len(s.images) {
		return fmt.Errorf("present of image %d out of %d: %w", imageIndex, len(s.images), ErrValidation)
	}
	if img := s.images[imageIndex]; img.layout != hal.LayoutPresentSrc {
		return fmt.Errorf("presented image %q is in layout %d: %w", img.label, img.layout, ErrValidation)
	}

	s.device.mu.Lock()
	s.device.stats.Presents++
	s.device.mu.Unlock()
	return nil
}

func (s *Swapchain) Recreate(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("swapchain recreated with empty extent %dx%d: %w", width, height, ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.create(hal.Extent{Width: width, Height: height}, uint32(len(s.images)))
	s.stale = false
	s.stalePresent = false

	s.device.mu.Lock()
	s.device.stats.Recreations++
	s.device.mu.Unlock()
	return nil
}

func (s *Swapchain) Extent() hal.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Swapchain) Format() hal.Format {
	return hal.FormatBGRA8Unorm
}

func (s *Swapchain) ImageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.images))
}

func (s *Swapchain) Image(index uint32) hal.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[index]
}

func (s *Swapchain) Destroy() {}
