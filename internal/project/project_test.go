package project

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/platform"
)

func TestWorkDir(t *testing.T) {
	assert.Equal(t, ".", WorkDir("supabase/functions"))
	assert.Equal(t, filepath.FromSlash("/srv/app"), WorkDir("/srv/app/supabase/functions"))
	assert.Equal(t, filepath.FromSlash("/tmp/stage"), WorkDir("/tmp/stage"))
	assert.Equal(t, "", WorkDir(""))
}

func TestOpenRequiresDatabaseURL(t *testing.T) {
	_, err := Open(context.Background(), config.ProjectConfig{Name: "shop"}, Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, platform.ErrNotConfigured)
}
