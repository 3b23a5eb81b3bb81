package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response acknowledges a command.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks wires control commands to the running pipeline. Nil callbacks
// report the command as unimplemented.
type Callbacks struct {
	OnGetStatus     func() map[string]any
	OnPauseCapture  func(camera string) error
	OnResumeCapture func(camera string) error
	OnAutoExposure  func(ctx context.Context, camera string) (int, error)
	OnSetTrim       func(x, y int) error
	OnShutdown      func() error
}

// HandlerConfig configures the MQTT command plane.
type HandlerConfig struct {
	Broker        string
	ClientID      string
	ControlTopic  string
	ResponseTopic string
	QoS           byte
}

// Handler subscribes to the control topic and dispatches commands to the
// pipeline via callbacks. Commands are serialized through a small queue so
// a slow operation (an exposure sweep takes seconds) never blocks the MQTT
// receive thread.
type Handler struct {
	cfg       HandlerConfig
	client    mqtt.Client
	callbacks Callbacks
	commands  chan Command
}

// NewHandler creates the command plane handler and its MQTT client.
func NewHandler(cfg HandlerConfig, callbacks Callbacks) (*Handler, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("control: MQTT broker is required")
	}
	if cfg.ControlTopic == "" {
		return nil, fmt.Errorf("control: control topic is required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	return &Handler{
		cfg:       cfg,
		client:    mqtt.NewClient(opts),
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}, nil
}

// Start connects to the broker, subscribes and begins dispatching.
func (h *Handler) Start(ctx context.Context) error {
	token := h.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("control: MQTT connect timeout to %s", h.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: MQTT connect failed: %w", err)
	}

	sub := h.client.Subscribe(h.cfg.ControlTopic, h.cfg.QoS, h.onMessage)
	if !sub.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout on %s", h.cfg.ControlTopic)
	}
	if err := sub.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	go h.dispatch(ctx)

	slog.Info("control: command plane started",
		"broker", h.cfg.Broker, "topic", h.cfg.ControlTopic)
	return nil
}

// Stop unsubscribes and disconnects. Idempotent.
func (h *Handler) Stop() error {
	if h.client.IsConnected() {
		h.client.Unsubscribe(h.cfg.ControlTopic).Wait()
		h.client.Disconnect(250)
	}
	slog.Info("control: command plane stopped")
	return nil
}

func (h *Handler) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping", "command", cmd.Command)
	}
}

func (h *Handler) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.respond(h.handle(ctx, cmd))
		}
	}
}

func (h *Handler) handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}
	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	slog.Info("control: command received", "command", cmd.Command)

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail(fmt.Errorf("get_status not implemented"))
		}
		resp.Data = h.callbacks.OnGetStatus()

	case "pause_capture":
		camera, err := stringParam(cmd, "camera")
		if err != nil {
			return fail(err)
		}
		if h.callbacks.OnPauseCapture == nil {
			return fail(fmt.Errorf("pause_capture not implemented"))
		}
		if err := h.callbacks.OnPauseCapture(camera); err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"camera": camera, "paused": true}

	case "resume_capture":
		camera, err := stringParam(cmd, "camera")
		if err != nil {
			return fail(err)
		}
		if h.callbacks.OnResumeCapture == nil {
			return fail(fmt.Errorf("resume_capture not implemented"))
		}
		if err := h.callbacks.OnResumeCapture(camera); err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"camera": camera, "paused": false}

	case "auto_exposure":
		camera, err := stringParam(cmd, "camera")
		if err != nil {
			return fail(err)
		}
		if h.callbacks.OnAutoExposure == nil {
			return fail(fmt.Errorf("auto_exposure not implemented"))
		}
		exposure, err := h.callbacks.OnAutoExposure(ctx, camera)
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"camera": camera, "exposure_us": exposure}

	case "set_trim":
		x, errX := intParam(cmd, "trim_x")
		y, errY := intParam(cmd, "trim_y")
		if errX != nil {
			return fail(errX)
		}
		if errY != nil {
			return fail(errY)
		}
		if h.callbacks.OnSetTrim == nil {
			return fail(fmt.Errorf("set_trim not implemented"))
		}
		if err := h.callbacks.OnSetTrim(x, y); err != nil {
			return fail(err)
		}
		resp.Data = map[string]any{"trim_x": x, "trim_y": y}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return fail(fmt.Errorf("shutdown not implemented"))
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			return fail(err)
		}

	default:
		return fail(fmt.Errorf("unknown command %q", cmd.Command))
	}
	return resp
}

func (h *Handler) respond(resp Response) {
	if h.cfg.ResponseTopic == "" {
		return
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}
	h.client.Publish(h.cfg.ResponseTopic, h.cfg.QoS, false, payload)
}

func stringParam(cmd Command, key string) (string, error) {
	v, ok := cmd.Params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s requires string param %q", cmd.Command, key)
	}
	return v, nil
}

func intParam(cmd Command, key string) (int, error) {
	// JSON numbers decode as float64.
	v, ok := cmd.Params[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%s requires numeric param %q", cmd.Command, key)
	}
	return int(v), nil
}
