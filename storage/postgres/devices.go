package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

// DeviceByUID resolves a device by its hardware identifier. Unknown UIDs
// return ErrUnknownDevice.
func (s *Store) DeviceByUID(ctx context.Context, uid string) (types.Device, error) {
	var d types.Device
	err := s.pool.QueryRow(ctx,
		`SELECT id, device_uid, name, location, is_online
		   FROM devices WHERE device_uid = $1`, uid,
	).Scan(&d.ID, &d.UID, &d.Name, &d.Location, &d.Online)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return types.Device{}, errors.ErrUnknownDevice
		}
		s.metrics.recordError("device_by_uid")
		return types.Device{}, errors.WrapTransient(err, "Store", "DeviceByUID", "query device")
	}
	return d, nil
}

// DeviceByID resolves a device by its row id.
func (s *Store) DeviceByID(ctx context.Context, id int64) (types.Device, error) {
	var d types.Device
	err := s.pool.QueryRow(ctx,
		`SELECT id, device_uid, name, location, is_online
		   FROM devices WHERE id = $1`, id,
	).Scan(&d.ID, &d.UID, &d.Name, &d.Location, &d.Online)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return types.Device{}, errors.ErrUnknownDevice
		}
		s.metrics.recordError("device_by_id")
		return types.Device{}, errors.WrapTransient(err, "Store", "DeviceByID", "query device")
	}
	return d, nil
}

// SetDeviceOnline records an online/offline transition with the time it
// was observed.
func (s *Store) SetDeviceOnline(ctx context.Context, deviceID int64, online bool, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE devices SET is_online = $2, last_seen_at = $3 WHERE id = $1`,
		deviceID, online, seenAt)
	if err != nil {
		s.metrics.recordError("set_device_online")
		return errors.WrapTransient(err, "Store", "SetDeviceOnline", "update device")
	}
	return nil
}
