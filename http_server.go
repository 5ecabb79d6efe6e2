package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// startHTTPServer exposes the control surface: a live telemetry table, the
// trigger endpoints (start/stop/button) and a dump of the embedded store.
// The listener port is returned so a random port (:0) can be logged.
func startHTTPServer(station *Station, controlPort string) (string, error) {
	mux := http.NewServeMux()

	type endpoint struct {
		path    string
		handler http.HandlerFunc
	}
	endpoints := []endpoint{
		{
			path: "/status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.AppendHeader(table.Row{"Connector", "State", "Meter (Wh)", "SoC (%)", "Voltage (V)", "Current (A)", "Power (W)"})
				for i, snap := range station.Telemetry().All() {
					state := "Available"
					if snap.IsCharging {
						state = "Charging"
					}
					t.AppendRows([]table.Row{
						{i, state, snap.MeterWh, snap.SoCPercent, snap.VoltageV, snap.CurrentA, snap.PowerW},
					})
				}
				t.Render()
			},
		},
		{
			path: "/start",
			handler: func(w http.ResponseWriter, r *http.Request) {
				connector := AnyConnector
				if q := r.URL.Query().Get("connector"); q != "" {
					id, err := strconv.Atoi(q)
					if err != nil {
						http.Error(w, "bad connector id", http.StatusBadRequest)
						return
					}
					connector = id
				}
				station.TriggerStart(connector, r.URL.Query().Get("idTag"))
				w.WriteHeader(http.StatusNoContent)
			},
		},
		{
			path: "/stop",
			handler: func(w http.ResponseWriter, r *http.Request) {
				id, err := strconv.Atoi(r.URL.Query().Get("connector"))
				if err != nil {
					http.Error(w, "bad connector id", http.StatusBadRequest)
					return
				}
				station.TriggerStop(id)
				w.WriteHeader(http.StatusNoContent)
			},
		},
		{
			path: "/button",
			handler: func(w http.ResponseWriter, r *http.Request) {
				station.HandleButtonPress()
				w.WriteHeader(http.StatusNoContent)
			},
		},
		{
			path: "/list-db",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.AppendHeader(table.Row{"Key", "Value"})
				station.store.Dump(func(key, value string) {
					t.AppendRows([]table.Row{{key, value}})
				})
				t.Render()
			},
		},
	}
	endpoints = append(endpoints, endpoint{
		path: "/list",
		handler: func(w http.ResponseWriter, r *http.Request) {
			value := "Available endpoints:\n"
			for _, v := range endpoints {
				value += fmt.Sprintf("\t%s\n", v.path)
			}
			w.Write([]byte(value))
		},
	})

	for _, e := range endpoints {
		mux.HandleFunc(e.path, e.handler)
	}

	if controlPort == "" {
		controlPort = "0"
	}
	listener, err := net.Listen("tcp", ":"+controlPort)
	if err != nil {
		return "", err
	}
	go http.Serve(listener, mux)

	return listener.Addr().String(), nil
}
