package core

import "sync"

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling frame time average, the frames per second and
// the acceleration structure counters of the last recorded frame.
type FrameMetrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	totalFrames        uint64

	instances     uint32
	geometries    uint32
	skippedFrames uint64
	tlasRebuilds  uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update records the duration of one frame, in seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		var sum float64
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
	m.totalFrames++
}

// RecordAccelerationStructures stores what the last TLAS build contained.
func (m *FrameMetrics) RecordAccelerationStructures(instances, geometries uint32, recreated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = instances
	m.geometries = geometries
	if recreated {
		m.tlasRebuilds++
	}
}

// RecordSkippedFrame counts a frame whose GPU work was skipped because the
// swapchain was stale.
func (m *FrameMetrics) RecordSkippedFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedFrames++
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// Instances returns the instance and geometry counts of the last TLAS.
func (m *FrameMetrics) Instances() (uint32, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances, m.geometries
}

func (m *FrameMetrics) SkippedFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skippedFrames
}

func (m *FrameMetrics) TlasRebuilds() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tlasRebuilds
}

// FrameCount is the number of frames recorded with Update.
func (m *FrameMetrics) FrameCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames
}
