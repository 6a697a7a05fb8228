package bot

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/transport"
)

// Command describes one SCSI command to run over the transport.
type Command struct {
	// LUN addresses the logical unit (0-15).
	LUN uint8

	// CDB is the SCSI command descriptor block (1-16 bytes).
	CDB []byte

	// Data is the data-phase payload. For IN commands it is filled with
	// received bytes; for OUT commands its contents are sent. A nil or
	// empty Data selects a no-data command.
	Data []byte

	// In selects the data-phase direction (device to host).
	In bool
}

// Result reports the outcome of a completed three-phase exchange.
type Result struct {
	// Status is the CSW status byte (StatusGood, StatusFailed,
	// StatusPhaseError).
	Status uint8

	// Residue is the CSW data residue.
	Residue uint32

	// Transferred is the number of data-phase bytes actually moved.
	Transferred int
}

// Ok returns true if the command passed.
func (r *Result) Ok() bool {
	return r.Status == StatusGood
}

// Sequencer drives BOT commands over a pipe, one at a time. It is not
// safe for concurrent use: the owning device serializes access through
// its mutex, which also covers the pipe's scratch buffer.
type Sequencer struct {
	pipe *transport.Pipe

	// NextTag produces the tag for each command. Defaults to a
	// process-local PRNG; tests may fix it.
	NextTag func() uint32

	lastTag uint32
}

// NewSequencer creates a sequencer over the given pipe.
func NewSequencer(pipe *transport.Pipe) *Sequencer {
	return &Sequencer{
		pipe:    pipe,
		NextTag: rand.Uint32,
	}
}

// Pipe returns the underlying transport pipe.
func (s *Sequencer) Pipe() *transport.Pipe {
	return s.pipe
}

// LastTag returns the tag of the most recently issued CBW.
func (s *Sequencer) LastTag() uint32 {
	return s.lastTag
}

// MaxLUN issues the Get Max LUN class request and returns the number of
// logical units (1-16). A device that stalls the request supports a
// single LUN; the stall is cleared on both bulk endpoints.
func (s *Sequencer) MaxLUN(ctx context.Context) (uint8, error) {
	var b [1]byte
	iface := uint16(s.pipe.Info().Number)
	_, err := s.pipe.Control(ctx, requestTypeClassInterfaceIn, RequestGetMaxLUN, 0, iface, b[:])
	if err != nil {
		if errors.Is(err, pkg.ErrStall) {
			if cerr := s.pipe.ClearBothHalts(ctx); cerr != nil {
				return 0, cerr
			}
			return 1, nil
		}
		return 0, err
	}

	count := int(b[0]) + 1
	if count > 16 {
		count = 16
	}
	return uint8(count), nil
}

// Reset performs BOT reset recovery: the Bulk-Only Mass Storage Reset
// request followed by clearing the halt on both bulk endpoints.
func (s *Sequencer) Reset(ctx context.Context) error {
	pkg.LogWarn(pkg.ComponentBOT, "reset recovery")

	iface := uint16(s.pipe.Info().Number)
	if _, err := s.pipe.Control(ctx, requestTypeClassInterfaceOut, RequestMassStorageReset, 0, iface, nil); err != nil {
		return err
	}
	return s.pipe.ClearBothHalts(ctx)
}

// Do runs one command through the three-phase transport.
//
// A non-nil error reports a transport or protocol failure after any local
// recovery was exhausted. With a nil error, the result carries the CSW
// status; interpreting a failed status (Request Sense, retry policy) is
// the SCSI layer's concern.
func (s *Sequencer) Do(ctx context.Context, cmd *Command) (Result, error) {
	if len(cmd.CDB) == 0 || len(cmd.CDB) > 16 {
		return Result{}, pkg.ErrInvalidParameter
	}

	cbw := CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                s.NextTag(),
		DataTransferLength: uint32(len(cmd.Data)),
		LUN:                cmd.LUN,
		CBLength:           uint8(len(cmd.CDB)),
	}
	if cmd.In {
		cbw.Flags = CBWFlagDataIn
	}
	copy(cbw.CB[:], cmd.CDB)
	s.lastTag = cbw.Tag

	// Command phase.
	buf := s.pipe.Buffer()
	cbw.MarshalTo(buf)
	if _, err := s.pipe.PostOut(ctx, CBWSize); err != nil {
		if errors.Is(err, pkg.ErrStall) {
			s.recover(ctx)
		}
		pkg.LogWarn(pkg.ComponentBOT, "CBW post failed",
			"tag", cbw.Tag,
			"error", err)
		return Result{}, err
	}

	// Data phase.
	transferred := 0
	if len(cmd.Data) > 0 {
		var res Result
		done, err := s.dataPhase(ctx, cmd, &cbw, &transferred, &res)
		if err != nil {
			return Result{}, err
		}
		if done {
			// Early CSW accepted: the command is complete with the
			// reported status.
			res.Transferred = transferred
			return res, nil
		}
	}

	// Status phase.
	csw, err := s.statusPhase(ctx, cbw.Tag)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Status:      csw.Status,
		Residue:     csw.DataResidue,
		Transferred: transferred,
	}
	if csw.Status == StatusPhaseError {
		s.recover(ctx)
	}
	return res, nil
}

// dataPhase moves the payload through the scratch buffer in chunks.
// It returns done=true when a valid early CSW completed the command.
func (s *Sequencer) dataPhase(ctx context.Context, cmd *Command, cbw *CommandBlockWrapper, transferred *int, res *Result) (bool, error) {
	buf := s.pipe.Buffer()
	data := cmd.Data

	for *transferred < len(data) {
		chunk := len(data) - *transferred
		if chunk > len(buf) {
			chunk = len(buf)
		}

		if cmd.In {
			n, err := s.pipe.PostIn(ctx, chunk)
			if err != nil {
				if errors.Is(err, pkg.ErrStall) {
					s.recover(ctx)
					return false, pkg.ErrStall
				}
				return false, err
			}

			// A 13-byte short read that parses as our CSW is the device
			// skipping the rest of the data phase.
			if n == CSWSize && n < chunk {
				var csw CommandStatusWrapper
				if ParseCSW(buf[:CSWSize], &csw) && csw.Tag == cbw.Tag {
					pkg.LogDebug(pkg.ComponentBOT, "early CSW",
						"tag", csw.Tag,
						"status", csw.Status,
						"residue", csw.DataResidue)
					if csw.Status == StatusPhaseError {
						s.recover(ctx)
					}
					res.Status = csw.Status
					res.Residue = csw.DataResidue
					return true, nil
				}
			}

			copy(data[*transferred:], buf[:n])
			*transferred += n
			if n < chunk {
				// Device terminated the data phase short; the CSW
				// accounts for the residue.
				return false, nil
			}
		} else {
			copy(buf, data[*transferred:*transferred+chunk])
			n, err := s.pipe.PostOut(ctx, chunk)
			if err != nil {
				if errors.Is(err, pkg.ErrStall) {
					s.recover(ctx)
					return false, pkg.ErrStall
				}
				return false, err
			}
			*transferred += n
			if n < chunk {
				return false, nil
			}
		}
	}
	return false, nil
}

// statusPhase receives and validates the CSW. A stalled IN endpoint is
// cleared and the read retried once.
func (s *Sequencer) statusPhase(ctx context.Context, tag uint32) (CommandStatusWrapper, error) {
	var csw CommandStatusWrapper
	buf := s.pipe.Buffer()

	n, err := s.pipe.PostIn(ctx, CSWSize)
	if err != nil && errors.Is(err, pkg.ErrStall) {
		if cerr := s.pipe.ClearHalt(ctx, true); cerr != nil {
			return csw, cerr
		}
		n, err = s.pipe.PostIn(ctx, CSWSize)
	}
	if err != nil {
		s.recover(ctx)
		return csw, err
	}

	if n != CSWSize || !ParseCSW(buf[:n], &csw) {
		s.recover(ctx)
		return csw, pkg.ErrBadCSW
	}
	if csw.Tag != tag {
		pkg.LogWarn(pkg.ComponentBOT, "CSW tag mismatch",
			"want", tag,
			"got", csw.Tag)
		s.recover(ctx)
		return csw, pkg.ErrTagMismatch
	}
	return csw, nil
}

// recover performs reset recovery, logging but otherwise swallowing any
// secondary failure: the command that triggered recovery already failed.
func (s *Sequencer) recover(ctx context.Context) {
	if err := s.Reset(ctx); err != nil {
		pkg.LogError(pkg.ComponentBOT, "reset recovery failed", "error", err)
	}
}
