package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/utils"
)

const MaxSyncBatch = 500

type SyncStatus string

const (
	SyncCreated   SyncStatus = "created"
	SyncUpdated   SyncStatus = "updated"
	SyncUnchanged SyncStatus = "unchanged"
	SyncRejected  SyncStatus = "rejected"
)

// SyncItem is a record snapshot produced offline by a device.
type SyncItem struct {
	ClientID   string
	UserID     int64
	Date       string
	ClockIn    model.TimeOfDay
	ClockOut   *model.TimeOfDay
	BreakStart *model.TimeOfDay
	BreakEnd   *model.TimeOfDay
	Method     model.Method
	ShiftID    *string
}

type SyncAck struct {
	ClientID string                  `json:"clientId"`
	Status   SyncStatus              `json:"status"`
	Record   *model.AttendanceRecord `json:"record,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

// SyncBatch applies a batch of offline snapshots in one transaction.
//
// A snapshot for a (user, date) without a record creates it. Otherwise the
// stored record wins for every field it already has and the snapshot only
// fills the gaps, so replaying a batch is harmless. Items that fail
// validation or authorization are rejected individually; any other error
// fails the whole batch and the caller retries it.
func (s *Service) SyncBatch(ctx context.Context, actor security.Identity, items []SyncItem) ([]SyncAck, error) {
	if len(items) == 0 {
		return []SyncAck{}, nil
	}
	if len(items) > MaxSyncBatch {
		return nil, validationf("batch holds %d items, limit is %d", len(items), MaxSyncBatch)
	}

	var acks []SyncAck
	err := s.store.Transaction(ctx, func(tx Store) error {
		acks = make([]SyncAck, 0, len(items))
		for _, item := range items {
			ack, err := s.syncOne(ctx, tx, actor, item)
			if err != nil {
				return err
			}
			acks = append(acks, ack)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := map[SyncStatus]int{}
	for _, a := range acks {
		counts[a.Status]++
	}
	s.opts.Logger.Info("sync batch applied",
		"actor", actor.UserID,
		"items", len(items),
		"created", counts[SyncCreated],
		"updated", counts[SyncUpdated],
		"unchanged", counts[SyncUnchanged],
		"rejected", counts[SyncRejected],
	)
	return acks, nil
}

func (s *Service) syncOne(ctx context.Context, tx Store, actor security.Identity, item SyncItem) (SyncAck, error) {
	ack := SyncAck{ClientID: item.ClientID}

	if err := s.checkSyncItem(actor, item); err != nil {
		if isClientError(err) {
			ack.Status = SyncRejected
			ack.Message = err.Error()
			return ack, nil
		}
		return ack, err
	}

	existing, err := tx.FindByUserDate(ctx, item.UserID, item.Date)
	if err != nil {
		return ack, err
	}

	if existing == nil {
		rec := &model.AttendanceRecord{
			ID:         uuid.NewString(),
			UserID:     item.UserID,
			Date:       item.Date,
			ClockIn:    item.ClockIn,
			ClockOut:   item.ClockOut,
			BreakStart: item.BreakStart,
			BreakEnd:   item.BreakEnd,
			Method:     item.Method,
			ShiftID:    item.ShiftID,
			Approved:   !s.opts.RequireApproval,
			RecordedBy: actor.UserID,
		}
		Recompute(rec)
		if err := tx.Create(ctx, rec); err != nil {
			return ack, err
		}
		ack.Status = SyncCreated
		ack.Record = rec
		return ack, nil
	}

	merged := existing.Clone()
	changed := fillGap(&merged.ClockOut, item.ClockOut)
	changed = fillGap(&merged.BreakStart, item.BreakStart) || changed
	changed = fillGap(&merged.BreakEnd, item.BreakEnd) || changed
	if merged.ShiftID == nil && item.ShiftID != nil {
		merged.ShiftID = utils.Ptr(*item.ShiftID)
		changed = true
	}
	if !changed {
		ack.Status = SyncUnchanged
		ack.Record = existing
		return ack, nil
	}

	if err := CheckInvariants(merged); err != nil {
		ack.Status = SyncRejected
		ack.Record = existing
		ack.Message = err.Error()
		return ack, nil
	}
	Recompute(merged)
	if err := tx.Save(ctx, merged); err != nil {
		return ack, err
	}
	ack.Status = SyncUpdated
	ack.Record = merged
	return ack, nil
}

// checkSyncItem validates a snapshot. Token-scan items are not re-validated:
// the device checked the token when the punch happened, and by the time the
// batch arrives the window has usually passed.
func (s *Service) checkSyncItem(actor security.Identity, item SyncItem) error {
	if item.ClientID == "" {
		return validationf("clientId is required")
	}
	if item.UserID == 0 {
		return validationf("userId is required")
	}
	if item.UserID != actor.UserID && !actor.CanProxy() {
		return forbiddenf("acting for user %d requires the proxy capability", item.UserID)
	}
	if _, err := utils.ParseDate(item.Date); err != nil {
		return validationf("%v", err)
	}
	if item.Method == model.MethodAdminOverride && !actor.IsAdmin() {
		return forbiddenf("admin-override punches require the admin role")
	}
	return CheckInvariants(&model.AttendanceRecord{
		ClockIn:    item.ClockIn,
		ClockOut:   item.ClockOut,
		BreakStart: item.BreakStart,
		BreakEnd:   item.BreakEnd,
		Method:     item.Method,
	})
}

func fillGap(dst **model.TimeOfDay, src *model.TimeOfDay) bool {
	if *dst != nil || src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func isClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden)
}
