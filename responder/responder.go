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

// Package responder serves the phone-facing command socket. One client
// at a time sends framed JSON commands; unknown or malformed commands
// are logged and dropped so a broken client can never wedge the
// recorder.
package responder

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"time"

	"github.com/juju/ratelimit"
)

const (
	// DefaultAddr is where clients on the camera's own network connect.
	DefaultAddr = ":5001"

	// imageWait bounds how long a get_image holds the connection while
	// the pacing loop assembles a fresh record. Past it the command is
	// quietly dropped; the client retries on its next poll.
	imageWait = 1500 * time.Millisecond

	// get_image is the only expensive command; one in flight per
	// imageRateEvery keeps a hot-polling client from starving capture.
	imageRateEvery = 500 * time.Millisecond
	imageRateBurst = 2
)

// Status mirrors what the phone app shows on its main screen.
type Status struct {
	Camera    string  `json:"Camera"`
	Version   string  `json:"Version"`
	Time      string  `json:"Time"`
	Date      string  `json:"Date"`
	Recording bool    `json:"Recording"`
	Battery   float64 `json:"Battery"`
	Charge    string  `json:"Charge"`
	Storage   bool    `json:"Storage"`
}

// ConfigPayload carries the adjustable camera settings. Fields are
// pointers so a set_config can change any subset.
type ConfigPayload struct {
	RecordVisual  *bool   `json:"record_visual,omitempty"`
	RecordThermal *bool   `json:"record_thermal,omitempty"`
	GainMode      *string `json:"gain_mode,omitempty"`
	Palette       *string `json:"palette,omitempty"`
	IntervalSecs  *int    `json:"interval_secs,omitempty"`
}

// WifiPayload carries the network settings. The client passphrase is
// write-only; get_wifi never returns it.
type WifiPayload struct {
	Flags          *byte   `json:"flags,omitempty"`
	APSSID         *string `json:"ap_ssid,omitempty"`
	APPassword     *string `json:"ap_pw,omitempty"`
	ClientSSID     *string `json:"sta_ssid,omitempty"`
	ClientPassword *string `json:"sta_pw,omitempty"`
	APIP           *string `json:"ap_ip_addr,omitempty"`
	ClientIP       *string `json:"sta_ip_addr,omitempty"`
}

// TimeArgs is a set_time command body. Every field is required; a
// partial clock set is worse than none.
type TimeArgs struct {
	Sec  *int `json:"sec"`
	Min  *int `json:"min"`
	Hour *int `json:"hour"`
	DoW  *int `json:"dow"`
	Day  *int `json:"day"`
	Mon  *int `json:"mon"`
	Year *int `json:"year"`
}

// Controller is what the responder drives. Implementations are safe for
// calls from the connection goroutine.
type Controller interface {
	Status() Status
	CameraConfig() ConfigPayload
	SetCameraConfig(ConfigPayload) error
	Wifi() WifiPayload
	SetWifi(WifiPayload) error
	SetTime(time.Time) error
	SetRecording(on bool) error
	Poweroff()

	// RequestImage asks the pacing loop for the next record bundle.
	// The encoded bundle arrives on reply, which must be buffered.
	RequestImage(reply chan<- []byte)
}

type command struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Server owns the listening socket.
type Server struct {
	ctrl    Controller
	ln      net.Listener
	limiter *ratelimit.Bucket
}

func Listen(addr string, ctrl Controller) (*Server, error) {
	return listenWithClock(addr, ctrl, nil)
}

func listenWithClock(addr string, ctrl Controller, clock ratelimit.Clock) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		ctrl:    ctrl,
		ln:      ln,
		limiter: ratelimit.NewBucketWithClock(imageRateEvery, imageRateBurst, clock),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Close() error {
	return s.ln.Close()
}

// Run accepts clients one at a time until the listener closes.
func (s *Server) Run() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	var scanner frameScanner
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("command socket: %v", err)
			}
			return
		}
		for _, b := range buf[:n] {
			if frame, ok := scanner.push(b); ok {
				s.dispatch(conn, frame)
			}
		}
	}
}

func (s *Server) dispatch(conn net.Conn, frame []byte) {
	var cmd command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		log.Printf("unparseable command: %v", err)
		return
	}

	switch cmd.Cmd {
	case "get_status":
		s.send(conn, map[string]interface{}{"status": s.ctrl.Status()})
	case "get_image":
		s.sendImage(conn)
	case "get_config":
		s.send(conn, map[string]interface{}{"config": s.ctrl.CameraConfig()})
	case "set_config":
		var cfg ConfigPayload
		if err := json.Unmarshal(cmd.Args, &cfg); err != nil {
			log.Printf("set_config: %v", err)
			return
		}
		if err := s.ctrl.SetCameraConfig(cfg); err != nil {
			log.Printf("set_config: %v", err)
		}
	case "get_wifi":
		w := s.ctrl.Wifi()
		w.ClientPassword = nil
		s.send(conn, map[string]interface{}{"wifi": w})
	case "set_wifi":
		var w WifiPayload
		if err := json.Unmarshal(cmd.Args, &w); err != nil {
			log.Printf("set_wifi: %v", err)
			return
		}
		if err := s.ctrl.SetWifi(w); err != nil {
			log.Printf("set_wifi: %v", err)
		}
	case "set_time":
		s.setTime(cmd.Args)
	case "record_on":
		if err := s.ctrl.SetRecording(true); err != nil {
			log.Printf("record_on: %v", err)
		}
	case "record_off":
		if err := s.ctrl.SetRecording(false); err != nil {
			log.Printf("record_off: %v", err)
		}
	case "poweroff":
		s.ctrl.Poweroff()
	default:
		log.Printf("unknown command %q ignored", cmd.Cmd)
	}
}

func (s *Server) sendImage(conn net.Conn) {
	if s.limiter.TakeAvailable(1) == 0 {
		return
	}
	reply := make(chan []byte, 1)
	s.ctrl.RequestImage(reply)
	select {
	case data := <-reply:
		if _, err := conn.Write(wrap(data)); err != nil {
			log.Printf("send image: %v", err)
		}
	case <-time.After(imageWait):
		// no fresh record in time; the client will ask again
	}
}

func (s *Server) setTime(args json.RawMessage) {
	var ta TimeArgs
	if err := json.Unmarshal(args, &ta); err != nil {
		log.Printf("set_time: %v", err)
		return
	}
	if ta.Sec == nil || ta.Min == nil || ta.Hour == nil || ta.DoW == nil ||
		ta.Day == nil || ta.Mon == nil || ta.Year == nil {
		log.Print("set_time: incomplete time, ignored")
		return
	}
	t := time.Date(*ta.Year, time.Month(*ta.Mon), *ta.Day,
		*ta.Hour, *ta.Min, *ta.Sec, 0, time.Local)
	if err := s.ctrl.SetTime(t); err != nil {
		log.Printf("set_time: %v", err)
	}
}

func (s *Server) send(conn net.Conn, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode response: %v", err)
		return
	}
	if _, err := conn.Write(wrap(data)); err != nil {
		log.Printf("send response: %v", err)
	}
}
