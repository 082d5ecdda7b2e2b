package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"freightline.ai/internal/protocol"
)

// The bot drives a small shakedown haul against a running server: two
// stations, a coal mine, one train, then it reports deliveries as they land.
func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "operator name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		OperatorName:    *name,
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, log: logger}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME operator_id=%s world=%s tick_rate=%d seed=%d",
				w.OperatorID, w.WorldParams.WorldID, w.WorldParams.TickRateHz, w.WorldParams.Seed)

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			b.handleObs(&obs)
		}
	}
}

type bot struct {
	conn *websocket.Conn
	log  *log.Logger

	phase  int
	cmdSeq int

	mine    uint16
	works   uint16
	vehicle uint32
}

func (b *bot) handleObs(obs *protocol.ObsMsg) {
	for _, ev := range obs.Events {
		b.handleEvent(ev)
	}

	switch b.phase {
	case 0:
		// Two stations twenty tiles apart.
		b.send(obs, protocol.CommandReq{
			ID: b.nextID(), Type: "CREATE_STATION", Name: "Mine Yard", Tile: tile(12, 8),
		}, protocol.CommandReq{
			ID: b.nextID(), Type: "CREATE_STATION", Name: "Works", Tile: tile(32, 8),
		})
		b.phase = 1

	case 1:
		if b.mine == 0 || b.works == 0 {
			return
		}
		accept := true
		b.send(obs, protocol.CommandReq{
			ID: b.nextID(), Type: "CREATE_INDUSTRY", Industry: "COAL_MINE", Station: b.mine,
		}, protocol.CommandReq{
			ID: b.nextID(), Type: "SET_ACCEPT", Station: b.works, Cargo: "COAL", Accept: &accept,
		}, protocol.CommandReq{
			ID: b.nextID(), Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: b.mine,
		})
		b.phase = 2

	case 2:
		if b.vehicle == 0 {
			return
		}
		b.send(obs, protocol.CommandReq{
			ID: b.nextID(), Type: "SET_ORDERS", VehicleID: b.vehicle,
			Orders: []protocol.OrderReq{
				{Station: b.mine},
				{Station: b.works, Flags: []string{"UNLOAD", "NO_LOAD"}},
			},
		})
		b.phase = 3

	default:
		if obs.Tick%500 == 0 {
			b.log.Printf("tick=%d balance=%d delivered_units=%d income=%d live_packets=%d",
				obs.Tick, obs.Ledger.Balance, obs.Ledger.DeliveredUnits, obs.Ledger.DeliveredIncome, obs.World.LivePackets)
		}
	}
}

func (b *bot) handleEvent(ev protocol.Event) {
	switch ev["type"] {
	case "STATION_CREATED":
		id := uint16(evNum(ev, "station"))
		if b.mine == 0 {
			b.mine = id
		} else if b.works == 0 {
			b.works = id
		}
	case "VEHICLE_CREATED":
		b.vehicle = uint32(evNum(ev, "vehicle"))
	case "DELIVERY":
		b.log.Printf("DELIVERY station=%d cargo=%v units=%v income=%v",
			uint16(evNum(ev, "station")), ev["cargo"], ev["units"], ev["income"])
	case "ACTION_RESULT":
		if ok, _ := ev["ok"].(bool); !ok {
			b.log.Printf("command %v failed: %v %v", ev["ref"], ev["code"], ev["message"])
		}
	}
}

func (b *bot) send(obs *protocol.ObsMsg, cmds ...protocol.CommandReq) {
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            obs.Tick,
		OperatorID:      obs.OperatorID,
		Commands:        cmds,
	}
	_ = b.conn.WriteJSON(act)
}

func (b *bot) nextID() string {
	b.cmdSeq++
	return fmt.Sprintf("C%d", b.cmdSeq)
}

// evNum reads a numeric event field (JSON numbers decode as float64).
func evNum(ev protocol.Event, key string) float64 {
	f, _ := ev[key].(float64)
	return f
}

func tile(x, y uint32) uint32 { return x | y<<16 }
