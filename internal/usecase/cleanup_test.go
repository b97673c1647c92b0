package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduleDeleteRemovesFile(t *testing.T) {
	fs := newMockFS()
	fs.files["/downloads/old.apk"] = []byte("apk")
	c := NewCleaner(fs, zap.NewNop())

	c.ScheduleDelete("/downloads/old.apk", time.Millisecond)
	c.Wait()

	assert.False(t, fs.Exists("/downloads/old.apk"))
	assert.Equal(t, []string{"/downloads/old.apk"}, fs.deletedPaths())
}

func TestScheduleDeleteMissingFileIsNoOp(t *testing.T) {
	fs := newMockFS()
	c := NewCleaner(fs, zap.NewNop())

	c.ScheduleDelete("/downloads/gone.apk", time.Millisecond)
	c.Wait()

	assert.Empty(t, fs.deletedPaths())
}

func TestScheduleDeleteFailureIsLoggedNotThrown(t *testing.T) {
	fs := newMockFS()
	fs.files["/downloads/stuck.apk"] = []byte("apk")
	fs.deleteErr = errors.New("permission denied")

	core, logs := observer.New(zap.WarnLevel)
	c := NewCleaner(fs, zap.New(core))

	c.ScheduleDelete("/downloads/stuck.apk", time.Millisecond)
	c.Wait()

	assert.Equal(t, 1, logs.FilterMessage("failed to delete artifact").Len())
	assert.True(t, fs.Exists("/downloads/stuck.apk"))
}

func TestScheduleDeleteIdempotent(t *testing.T) {
	fs := newMockFS()
	fs.files["/downloads/twice.apk"] = []byte("apk")
	c := NewCleaner(fs, zap.NewNop())

	c.ScheduleDelete("/downloads/twice.apk", time.Millisecond)
	c.ScheduleDelete("/downloads/twice.apk", 30*time.Millisecond)
	c.Wait()

	// The second firing finds the file already gone and does nothing.
	assert.Equal(t, []string{"/downloads/twice.apk"}, fs.deletedPaths())
}
