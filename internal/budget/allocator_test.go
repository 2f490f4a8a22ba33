package budget

import (
	"testing"
	"time"
)

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func TestAllocateScenarios(t *testing.T) {
	alloc := NewAllocator(DefaultLimits())

	tests := []struct {
		name       string
		images     int
		audio      int
		wantJob    time.Duration
		wantModel  time.Duration
		wantTight  bool
	}{
		{
			name:      "no attachments",
			wantJob:   ms(120000),
			wantModel: ms(105000),
		},
		{
			name:      "one image",
			images:    1,
			wantJob:   ms(210000),
			wantModel: ms(105000),
		},
		{
			name:      "five images cost the same as one",
			images:    5,
			wantJob:   ms(210000),
			wantModel: ms(105000),
		},
		{
			name:      "audio clip clamps to ceiling and floors the model",
			audio:     1,
			wantJob:   ms(270000),
			wantModel: ms(60000),
			wantTight: true,
		},
		{
			name:      "audio plus images is identical to audio alone",
			images:    3,
			audio:     1,
			wantJob:   ms(270000),
			wantModel: ms(60000),
			wantTight: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tight := alloc.Allocate(tt.images, tt.audio)
			if got.JobTimeout != tt.wantJob {
				t.Errorf("job timeout = %v, want %v", got.JobTimeout, tt.wantJob)
			}
			if got.ModelTimeout != tt.wantModel {
				t.Errorf("model timeout = %v, want %v", got.ModelTimeout, tt.wantModel)
			}
			if tight != tt.wantTight {
				t.Errorf("tight = %v, want %v", tight, tt.wantTight)
			}
		})
	}
}

// Budget must not scale with item count within a modality: the batch runs
// concurrently, so N items cost what one item costs.
func TestAllocateParallelBatchInvariance(t *testing.T) {
	alloc := NewAllocator(DefaultLimits())

	one, _ := alloc.Allocate(1, 0)
	for n := 2; n <= 50; n++ {
		got, _ := alloc.Allocate(n, 0)
		if got != one {
			t.Fatalf("budget(%d images) = %+v, want %+v", n, got, one)
		}
	}

	oneAudio, _ := alloc.Allocate(0, 1)
	for n := 2; n <= 50; n++ {
		got, _ := alloc.Allocate(0, n)
		if got != oneAudio {
			t.Fatalf("budget(%d audio) = %+v, want %+v", n, got, oneAudio)
		}
	}
}

// When audio is the slower modality, adding images must not change the
// budget at all.
func TestAllocateSlowestModalityDominance(t *testing.T) {
	alloc := NewAllocator(DefaultLimits())

	audioOnly, _ := alloc.Allocate(0, 1)
	for images := 1; images <= 10; images++ {
		mixed, _ := alloc.Allocate(images, 1)
		if mixed != audioOnly {
			t.Fatalf("budget(%d images + audio) = %+v, want audio-only %+v", images, mixed, audioOnly)
		}
	}
}

func TestAllocateBounds(t *testing.T) {
	limits := DefaultLimits()
	alloc := NewAllocator(limits)

	for images := 0; images <= 8; images++ {
		for audio := 0; audio <= 8; audio++ {
			b, _ := alloc.Allocate(images, audio)
			if b.JobTimeout > limits.Ceiling {
				t.Errorf("Allocate(%d, %d): job timeout %v exceeds ceiling %v", images, audio, b.JobTimeout, limits.Ceiling)
			}
			if b.ModelTimeout < limits.ModelFloor {
				t.Errorf("Allocate(%d, %d): model timeout %v below floor %v", images, audio, b.ModelTimeout, limits.ModelFloor)
			}
			if b.JobTimeout <= 0 || b.ModelTimeout <= 0 {
				t.Errorf("Allocate(%d, %d): non-positive budget %+v", images, audio, b)
			}
		}
	}
}

func TestAllocateRetryBufferFundsOneRetry(t *testing.T) {
	limits := DefaultLimits()
	alloc := NewAllocator(limits)

	b, tight := alloc.Allocate(1, 0)
	if tight {
		t.Fatal("single image should not saturate the ceiling")
	}
	// base + vision + vision*retryMultiplier
	want := limits.Base + 2*limits.Vision
	if b.JobTimeout != want {
		t.Errorf("job timeout = %v, want %v", b.JobTimeout, want)
	}
}
