package web

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temp": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return strconv.FormatFloat(*v, 'f', 1, 64) + " °C"
	},
	"num": func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
	"percent": func(v float64) string {
		return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
	},
	"modes":   func() []thermostat.HVACMode { return hvacModes },
	"presets": func() []thermostat.Preset { return append([]thermostat.Preset{thermostat.PresetNone}, thermostat.Presets()...) },
}).Parse(indexHTML))

var hvacModes = []thermostat.HVACMode{
	thermostat.HVACOff, thermostat.HVACHeat, thermostat.HVACCool, thermostat.HVACHeatCool,
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{with .Thermostat}}{{with .Name}}{{.}}{{else}}Thermostat{{end}}{{else}}Thermostat{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.heating { color: #c40; font-weight: bold; }
.cooling { color: #06c; font-weight: bold; }
.idle, .off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
form { margin: 1em 0; }
</style>
</head>
<body>
{{with .Thermostat}}
<h1>{{with .Name}}{{.}}{{else}}Thermostat{{end}}</h1>

<h2>Climate</h2>
<table>
<tr><th>Mode</th><td>{{.HVACMode}}</td></tr>
<tr><th>Action</th><td class="{{.HVACAction}}">{{.HVACAction}}</td></tr>
<tr><th>Preset</th><td>{{.Preset}}</td></tr>
<tr><th>Current</th><td>{{temp .CurrentTemp}}</td></tr>
<tr><th>Target</th><td>{{temp .TargetTemp}}</td></tr>
<tr><th>Outdoor</th><td>{{temp .OutdoorTemp}}</td></tr>
<tr><th>Last reading</th><td>{{if .LastSensor.IsZero}}never{{else}}{{.LastSensor.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>

<h2>Control</h2>
<table>
<tr><th>Output</th><td>{{num .Output}}</td></tr>
<tr><th>Device</th><td>{{if .DeviceActive}}on{{else}}off{{end}}</td></tr>
{{if .Autotune}}
<tr><th>Autotune</th><td>{{.Autotune.State}} ({{.Autotune.Rule}})</td></tr>
<tr><th>Peaks</th><td>{{.Autotune.PeakCount}}</td></tr>
<tr><th>Buffer</th><td>{{percent .Autotune.BufferFill}} of {{.Autotune.BufferLength}} samples</td></tr>
{{else}}
<tr><th>PID mode</th><td>{{.PIDMode}}</td></tr>
<tr><th>Gains</th><td>kp={{num .Gains.Kp}} ki={{num .Gains.Ki}} kd={{num .Gains.Kd}} ke={{num .Gains.Ke}}</td></tr>
<tr><th>Terms</th><td>p={{num .Terms.P}} i={{num .Terms.I}} d={{num .Terms.D}} e={{num .Terms.E}}</td></tr>
{{end}}
</table>

<form method="post" action="/set">
<select name="hvac_mode">{{$mode := .HVACMode}}{{range modes}}<option{{if eq . $mode}} selected{{end}}>{{.}}</option>{{end}}</select>
<select name="preset">{{$preset := .Preset}}{{range presets}}<option{{if eq . $preset}} selected{{end}}>{{.}}</option>{{end}}</select>
<input name="target_temp" size="5" placeholder="target">
<button type="submit">Set</button>
</form>
{{else}}
<h1>Thermostat</h1>
<p>Starting up.</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.SensorTopic}}</td></tr>
{{if .Config.OutdoorTopic}}<tr><th>Outdoor sensor</th><td>{{.Config.OutdoorTopic}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.Heartbeat 0}}disabled{{else}}{{.Config.Heartbeat}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs Uptime as a field, and a nil thermostat until the
	// first update so the {{with}} branch works.
	data := struct {
		status.Snapshot
		Thermostat *thermostat.Snapshot
		Uptime     time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if snap.Updated {
		data.Thermostat = &snap.Thermostat
	}
	return indexTmpl.Execute(w, data)
}
