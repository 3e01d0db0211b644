// timelapse-recorder - paired visual/thermal timelapse recording
//  Copyright (C) 2022, The Openthermal Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/openthermal/timelapse-recorder/coordinator"
)

const (
	dbusName = "org.openthermal.timelapserecorder"
	dbusPath = "/org/openthermal/timelapserecorder"
)

type service struct {
	coord       *coordinator.Coordinator
	snapshotDir string
}

func startService(coord *coordinator.Coordinator, snapshotDir string) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		coord:       coord,
		snapshotDir: snapshotDir,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")

	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// StartRecording begins a new timelapse session
func (s *service) StartRecording() *dbus.Error {
	s.coord.StartRecording()
	return nil
}

// StopRecording ends the current session
func (s *service) StopRecording() *dbus.Error {
	s.coord.StopRecording()
	return nil
}

// ToggleRecording flips the recording state
func (s *service) ToggleRecording() *dbus.Error {
	s.coord.ToggleRecording()
	return nil
}

// Status reports recording state, storage presence, battery voltage,
// charge state and the next sequence number
func (s *service) Status() (bool, bool, float64, string, int, *dbus.Error) {
	st := s.coord.Status()
	return st.Recording, st.StoragePresent, st.BatteryVolts, st.Charge.String(), st.Seq, nil
}

// TakeSnapshot saves the next cycle's record as a file for inspection
func (s *service) TakeSnapshot() *dbus.Error {
	err := newSnapshot(s.coord, s.snapshotDir)
	if err != nil {
		return &dbus.Error{
			Name: dbusName + ".TakeSnapshot",
			Body: []interface{}{err.Error()},
		}
	}
	return nil
}

// Poweroff starts the shutdown sequence
func (s *service) Poweroff() *dbus.Error {
	s.coord.RequestShutdown()
	return nil
}
