package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsNotify = "org.freedesktop.Notifications.Notify"
)

// bus is the slice of dbus.BusObject the desktop notifier calls.
type bus interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Desktop shows notices through the freedesktop notification service on the
// user's session bus.
type Desktop struct {
	AppName string
	open    func() (bus, func() error, error)
}

func NewDesktop() *Desktop {
	return &Desktop{AppName: "dtt", open: openSessionBus}
}

func openSessionBus() (bus, func() error, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to send hello: %w", err)
	}
	return conn.Object(notificationsName, dbus.ObjectPath(notificationsPath)), conn.Close, nil
}

func (d *Desktop) Notify(ctx context.Context, n Notice) error {
	obj, closeFn, err := d.open()
	if err != nil {
		return err
	}
	defer closeFn()

	call := obj.CallWithContext(ctx, notificationsNotify, 0,
		d.AppName,
		uint32(0),
		"dialog-information",
		n.Title,
		n.Message,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		},
		int32(10000),
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}
	return nil
}
