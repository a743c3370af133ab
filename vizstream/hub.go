// Package vizstream pushes training frames to browser clients over
// websockets.
package vizstream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
	"gorgonia.org/tensor"

	"nnplayground/playground"
)

// WireFrame is the JSON form of a playground.Frame.
type WireFrame struct {
	RunID         string        `json:"runId"`
	Epoch         int           `json:"epoch"`
	TotalEpochs   int           `json:"totalEpochs"`
	Epochs        []int         `json:"epochs"`
	Loss          []float64     `json:"loss"`
	GradientNorm  []float64     `json:"gradientNorm"`
	TrainAccuracy []float64     `json:"trainAccuracy"`
	TestAccuracy  []float64     `json:"testAccuracy"`
	Weights       []WeightTrace `json:"weights,omitempty"`
	Prediction    *Surface      `json:"prediction,omitempty"`
	Grid          *GridFrame    `json:"grid,omitempty"`
}

type WeightTrace struct {
	Epoch  int       `json:"epoch"`
	Values []float64 `json:"values"`
}

// Surface is a grid-shaped array tagged with the epoch it was taken at.
type Surface struct {
	Epoch int         `json:"epoch"`
	Rows  [][]float64 `json:"rows"`
}

type GridFrame struct {
	Function string      `json:"function"`
	XAxis    []float64   `json:"xAxis"`
	YAxis    []float64   `json:"yAxis"`
	Truth    [][]float64 `json:"truth"`
}

// Encode converts a frame to its wire form. Only the latest prediction
// snapshot is sent.
func Encode(f playground.Frame) (*WireFrame, error) {
	w := &WireFrame{
		RunID:       f.RunID,
		Epoch:       f.Epoch,
		TotalEpochs: f.TotalEpochs,
	}
	if h := f.History; h != nil {
		w.Epochs = h.Epochs
		w.Loss = h.Loss
		w.GradientNorm = h.GradientNorm
		w.TrainAccuracy = h.TrainAccuracy
		w.TestAccuracy = h.TestAccuracy
		for _, s := range h.SelectedWeights {
			w.Weights = append(w.Weights, WeightTrace{Epoch: s.Epoch, Values: s.Values})
		}
		if snap, ok := h.LatestPredictions(); ok {
			rows, err := tensorRows(snap.Surface)
			if err != nil {
				return nil, err
			}
			w.Prediction = &Surface{Epoch: snap.Epoch, Rows: rows}
		}
	}
	if g := f.Grid; g != nil {
		truth, err := tensorRows(g.Truth)
		if err != nil {
			return nil, err
		}
		w.Grid = &GridFrame{Function: g.Function, XAxis: g.XAxis, YAxis: g.YAxis, Truth: truth}
	}
	return w, nil
}

func tensorRows(t *tensor.Dense) ([][]float64, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("vizstream: expected a 2-d surface, got shape %v", shape)
	}
	data, ok := t.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("vizstream: surface holds %T, want []float64", t.Data())
	}
	rows := make([][]float64, shape[0])
	for i := range rows {
		rows[i] = append([]float64(nil), data[i*shape[1]:(i+1)*shape[1]]...)
	}
	return rows, nil
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.Message.Send(c.conn, msg)
}

// Hub fans frames out to every connected client and replays the latest
// frame to clients that join mid-run. It implements playground.Visualizer.
type Hub struct {
	log *logrus.Logger

	mu      sync.Mutex
	clients map[string]*client
	latest  string
}

var _ playground.Visualizer = (*Hub)(nil)

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{log: log, clients: make(map[string]*client)}
}

// Handler serves the websocket endpoint.
func (h *Hub) Handler() websocket.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(ws *websocket.Conn) {
	c := &client{id: uuid.NewString(), conn: ws}
	defer func() {
		h.drop(c)
		ws.Close()
	}()

	// c.mu is held across registration and replay so a concurrent
	// broadcast cannot overtake the replayed frame.
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c.id] = c
	latest := h.latest
	h.mu.Unlock()
	var err error
	if latest != "" {
		err = websocket.Message.Send(ws, latest)
	}
	c.mu.Unlock()
	if err != nil {
		return
	}
	h.log.WithField("client", c.id).Info("viz client connected")

	// Clients only listen; reading detects the disconnect.
	for {
		var discard string
		if err := websocket.Message.Receive(ws, &discard); err != nil {
			if err != io.EOF {
				h.log.WithField("client", c.id).WithError(err).Debug("viz client read failed")
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		h.log.WithField("client", c.id).Info("viz client disconnected")
	}
}

// Render encodes the frame and broadcasts it.
func (h *Hub) Render(f playground.Frame) {
	w, err := Encode(f)
	if err != nil {
		h.log.WithError(err).Error("encode frame")
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		h.log.WithError(err).Error("marshal frame")
		return
	}
	h.Broadcast(string(data))
}

// Broadcast sends msg to every client and keeps it for replay. Clients
// whose send fails are dropped.
func (h *Hub) Broadcast(msg string) {
	h.mu.Lock()
	h.latest = msg
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			h.log.WithField("client", c.id).WithError(err).Warn("viz send failed, dropping client")
			h.drop(c)
			c.conn.Close()
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Decode parses one message of the stream.
func Decode(msg string) (*WireFrame, error) {
	var w WireFrame
	if err := json.Unmarshal([]byte(msg), &w); err != nil {
		return nil, err
	}
	return &w, nil
}
