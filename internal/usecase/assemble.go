package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/types"
	"github.com/wwwsec/yt-tools/internal/workspace"
)

type AssembleInput struct {
	Segments   []types.VideoSegment
	MasterPath string
	// Reconciled is burned into the picture when BurnSubtitles is set.
	Reconciled    types.Track
	BurnSubtitles bool
	Output        string
}

// Assemble joins the retimed segments, attaches the narration as the only
// audio track and publishes Output. Nothing is written to Output unless
// every step succeeds.
func (u Usecase) Assemble(ctx context.Context, ws *workspace.Workspace, in AssembleInput) error {
	log := u.log.With(logging.FieldStage, "assemble")
	if len(in.Segments) == 0 {
		return ErrNoSegments
	}

	clips := make([]string, len(in.Segments))
	for i, s := range in.Segments {
		clips[i] = s.Path
	}
	joined := ws.Path("video.mp4")
	if err := u.d.Video.ConcatClips(ctx, clips, ws.Path("concat.txt"), joined); err != nil {
		return err
	}

	var burn string
	if in.BurnSubtitles {
		burn = ws.Path("dub.ass")
		if err := os.WriteFile(burn, []byte(subtitles.RenderASS(in.Reconciled)), 0o644); err != nil {
			return err
		}
	}

	tmp, err := reserveTemp(ws, in.Output)
	if err != nil {
		return err
	}
	if err := u.d.Video.Mux(ctx, joined, in.MasterPath, tmp, burn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp, in.Output); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	log.Info("output written", slog.String("path", in.Output), slog.Int("segments", len(in.Segments)))
	return nil
}

// publishFile writes data next to dst and renames it into place.
func publishFile(ws *workspace.Workspace, dst string, data []byte) error {
	tmp, err := reserveTemp(ws, dst)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// reserveTemp creates an empty hidden file in dst's directory with dst's
// extension and registers its removal with ws. Removal after a successful
// rename is a no-op.
func reserveTemp(ws *workspace.Workspace, dst string) (string, error) {
	dir, base := filepath.Split(dst)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(base)
	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ext)+".partial-*"+ext)
	if err != nil {
		return "", fmt.Errorf("reserve output: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	ws.Defer("remove "+name, func() error {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	return name, nil
}
