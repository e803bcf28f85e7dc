package segment

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/logger"
)

const mergeBufferSize = 4 * 1024 * 1024

// Assemble concatenates a Download's finished segments' part-files, in
// offset order, into targetPath. partDir holds the part-files named by
// Segment.PartFileName. Scratch is removed only after the final file is
// fully written; on any I/O failure the part-files are left in place so a
// retry can resume the assembly.
func Assemble(d *common.Download, partDir, targetPath string) error {
	segs := make([]*common.Segment, len(d.Segments))
	copy(segs, d.Segments)

	for _, s := range segs {
		if s.State != common.SegmentFinished {
			return errors.NewAssembleError(errors.New("segment not finished"), s.ID.String())
		}
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].Offset < segs[j].Offset })

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return errors.NewAssembleError(err, targetPath)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return errors.NewAssembleError(err, targetPath)
	}
	defer out.Close()

	bufOut := bufio.NewWriterSize(out, mergeBufferSize)

	var total int64
	for i, s := range segs {
		partPath := filepath.Join(partDir, s.PartFileName())

		partFile, err := os.Open(partPath)
		if err != nil {
			return errors.NewAssembleError(err, partPath)
		}

		n, copyErr := io.Copy(bufOut, partFile)
		partFile.Close()
		total += n

		if copyErr != nil {
			return errors.NewAssembleError(copyErr, partPath)
		}

		logger.Debugf("assembled segment %d/%d (%s): %d bytes", i+1, len(segs), s.ID, n)
	}

	if err := bufOut.Flush(); err != nil {
		return errors.NewAssembleError(err, targetPath)
	}
	if err := out.Sync(); err != nil {
		return errors.NewAssembleError(err, targetPath)
	}

	logger.Infof("assembled download %s into %s (%d bytes)", d.ID, targetPath, total)

	for _, s := range segs {
		if err := os.Remove(filepath.Join(partDir, s.PartFileName())); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove scratch part file for segment %s: %v", s.ID, err)
		}
	}

	return nil
}
