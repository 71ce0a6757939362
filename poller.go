package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"bms-service/bms"

	"github.com/brutella/can"
)

const (
	// BMS diagnostic addresses
	BmsRequestID  uint32 = 0x781
	BmsResponseID uint32 = 0x789

	// UDS service bytes
	ReadDataByIdentifier byte = 0x22
	positiveResponseSID  byte = 0x62

	// ISO-TP PCI frame types
	frameTypeSingle      byte = 0x00
	frameTypeFirst       byte = 0x10
	frameTypeConsecutive byte = 0x20
	frameTypeFlowControl byte = 0x30

	// Gap between poll requests within one cycle
	pollRequestGap = 100 * time.Millisecond
)

// pollPids is the BMS poll list, walked once per cycle.
var pollPids = []uint16{
	bms.BatteryBusVoltagePid,
	bms.BatteryCurrentPid,
	bms.BatteryVoltagePid,
	bms.BatterySoCPid,
	bms.BmsStatusPid,
	bms.BatteryCoolantTempPid,
	bms.BatterySoHPid,
	bms.BmsRangePid,
	bms.Cell1StatPid,
	bms.Cell2StatPid,
	bms.Cell3StatPid,
	bms.Cell4StatPid,
	bms.Cell5StatPid,
	bms.Cell6StatPid,
	bms.Cell7StatPid,
	bms.Cell8StatPid,
	bms.Cell9StatPid,
}

// Poller issues ReadDataByIdentifier requests to the BMS on a fixed
// cycle and reassembles the ISO-TP responses into the (pid, payload,
// remain) chunks the decoder consumes. Split responses are delivered
// chunk by chunk with the count of payload bytes still outstanding, so
// the decoder sees the two cell-stat phases exactly as they arrive.
type Poller struct {
	log      *LeveledLogger
	bus      *can.Bus
	decoder  *bms.Decoder
	interval time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	// Reassembly state for the in-flight split response
	pid    uint16
	remain uint16
}

func NewPoller(logger *LeveledLogger, bus *can.Bus, decoder *bms.Decoder, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		log:      logger,
		bus:      bus,
		decoder:  decoder,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the poll loop until Destroy is called.
func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("Starting BMS poll loop, interval %v", p.interval)
	p.pollCycle()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollCycle()
		}
	}
}

func (p *Poller) pollCycle() {
	for _, pid := range pollPids {
		if err := p.sendRequest(pid); err != nil {
			p.log.Error("Failed to request PID 0x%04X: %v", pid, err)
			continue
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(pollRequestGap):
		}
	}
}

func (p *Poller) sendRequest(pid uint16) error {
	frame := packFrame(BmsRequestID, []byte{
		0x03, ReadDataByIdentifier, byte(pid >> 8), byte(pid), 0x00, 0x00, 0x00, 0x00,
	})

	p.log.DebugPID("TX", pid, frame.Data[:frame.Length], 0)

	if err := p.bus.Publish(frame); err != nil {
		return fmt.Errorf("failed to publish request: %v", err)
	}
	return nil
}

// HandleFrame reassembles BMS response frames. Frames from other
// addresses are ignored.
func (p *Poller) HandleFrame(frame can.Frame) {
	if frame.ID != BmsResponseID || frame.Length == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch frame.Data[0] & 0xf0 {
	case frameTypeSingle:
		// PCI length covers SID + PID + payload
		length := frame.Data[0] & 0x0f
		if length < 3 || length > 7 || frame.Data[1] != positiveResponseSID {
			return
		}
		pid := binary.BigEndian.Uint16(frame.Data[2:4])
		payload := frame.Data[4 : 1+length]
		p.remain = 0
		p.deliver(pid, payload, 0)

	case frameTypeFirst:
		total := uint16(frame.Data[0]&0x0f)<<8 | uint16(frame.Data[1])
		if total < 6 || frame.Data[2] != positiveResponseSID {
			return
		}
		p.pid = binary.BigEndian.Uint16(frame.Data[3:5])
		payload := frame.Data[5:8]
		// total includes the SID + PID header and this chunk
		p.remain = total - 3 - uint16(len(payload))

		p.sendFlowControl()
		p.deliver(p.pid, payload, p.remain)

	case frameTypeConsecutive:
		if p.remain == 0 {
			// No split response in flight; stray frame
			return
		}
		n := p.remain
		if n > 7 {
			n = 7
		}
		payload := frame.Data[1 : 1+n]
		p.remain -= n
		p.deliver(p.pid, payload, p.remain)
	}
}

func (p *Poller) deliver(pid uint16, payload []byte, remain uint16) {
	data := make([]byte, len(payload))
	copy(data, payload)
	p.decoder.HandleResponse(pid, data, remain)
}

func (p *Poller) sendFlowControl() {
	if p.bus == nil {
		return
	}
	// Clear to send, no block size limit, no separation time
	frame := packFrame(BmsRequestID, []byte{frameTypeFlowControl, 0x00, 0x00})
	if err := p.bus.Publish(frame); err != nil {
		p.log.Error("Failed to send flow control: %v", err)
	}
}

func (p *Poller) Destroy() {
	if p.cancel != nil {
		p.cancel()
	}
}

// packFrame creates a CAN frame with the given ID and data
func packFrame(id uint32, data []byte) can.Frame {
	var frameData [8]byte
	copy(frameData[:], data)
	return can.Frame{
		ID:     id,
		Length: uint8(len(data)),
		Flags:  0,
		Data:   frameData,
	}
}
