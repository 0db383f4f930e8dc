// Command cellboot boots a cell agent / packet engine over real TCP
// ports, replays a recorded trace file, or stands up an in-process
// rack of simulated cells - grounded on teacher's dbadmin/main.go
// urfave/cli.App layout (flat Commands slice, a global --debug flag
// wired into log.SetDebugVisible in Before).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/config"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/link"
	"github.com/cellfabric/fabric/log"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/cellfabric/fabric/rack"
	"github.com/cellfabric/fabric/trace"
	"github.com/cellfabric/fabric/webapi"
	"github.com/kr/pretty"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "cellboot"
	cliApp.Usage = "boot, replay, or simulate a cellfabric cell"
	cliApp.Version = "0.1"
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "debug, d", Value: 0, Usage: "debug-level: 1 for terse, 5 for maximal"},
		cli.StringFlag{Name: "config, c", Value: "", Usage: "path to a TOML config file (spec.md §6 config surface)"},
		cli.StringFlag{Name: "logfile", Usage: "also mirror log output to this file, in addition to stderr"},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		if path := c.String("logfile"); path != "" {
			if _, err := log.NewFileLogger(path, &log.LoggerInfo{}); err != nil {
				return xerrors.Errorf("cellboot: logfile: %w", err)
			}
		}
		return nil
	}
	cliApp.Commands = cli.Commands{
		{
			Name:      "start",
			Usage:     "boot a single cell listening on real TCP ports",
			Action:    cmdStart,
			ArgsUsage: "cell-id listen-addr",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "connect", Usage: "comma-separated port=addr pairs to dial on boot"},
				cli.StringFlag{Name: "border", Usage: "comma-separated port=addr=sender-id=tree-name border (NoC) ports to dial on boot"},
				cli.UintFlag{Name: "ports", Value: 8, Usage: "number of ports this cell has"},
				cli.StringFlag{Name: "web", Usage: "address to serve the fabric/webapi inspection endpoint on"},
			},
		},
		{
			Name:      "replay",
			Usage:     "reconstruct a cell's state from a recorded trace file",
			Action:    cmdReplay,
			ArgsUsage: "cell-id trace-file",
		},
		{
			Name:      "rack",
			Usage:     "boot an in-process rack of simulated cells in a line topology",
			Action:    cmdRack,
			ArgsUsage: "cell-id [cell-id...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "break", Usage: "cell-id:port edge to sever after wiring (spec.md §6 auto_break)"},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("cellboot: %+v", err)
	}
}

func loadConfig(c *cli.Context) config.Config {
	path := c.GlobalString("config")
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("cellboot: config: %+v", err)
	}
	return cfg
}

func cmdStart(c *cli.Context) error {
	if c.NArg() < 2 {
		return xerrors.New("usage: cellboot start <cell-id> <listen-addr>")
	}
	cfg := loadConfig(c)

	cellID, err := fabric.NewCellID(c.Args().Get(0))
	if err != nil {
		return err
	}
	listenAddr := c.Args().Get(1)

	connID, err := fabric.NewTreeID("Tree:connected")
	if err != nil {
		return err
	}
	myID, err := fabric.NewTreeID("Tree:" + cellID.String())
	if err != nil {
		return err
	}
	controlID, err := fabric.NewTreeID("Tree:control")
	if err != nil {
		return err
	}

	router := link.NewRouter(cellID)
	proxy := &link.CASinkProxy{}
	pe := packetengine.New(cellID, connID, fabric.PortQty(c.Uint("ports")), nil, router, proxy)
	ca := cellagent.New(cellID, fabric.PortQty(c.Uint("ports")), cfg.QuenchPolicyValue(), pe, router)
	if err := ca.Initialize(controlID, connID, myID, gvm.NewEquation("true", "true", "true", "false")); err != nil {
		return err
	}
	proxy.CA = ca
	router.Bind(pe, ca)

	if cfg.OutputTracePath != "" {
		sink, err := trace.NewSink(cfg.OutputTracePath, 0)
		if err != nil {
			log.Error("cellboot: trace sink:", err)
		} else {
			defer sink.Close()
		}
	}

	ln, err := link.ListenTCP(listenAddr, func(conn link.Conn) {
		log.Lvl1(cellID, "accepted inbound connection")
	})
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Lvl1(cellID, "listening on", listenAddr)

	for _, pair := range splitPairs(c.String("connect")) {
		portNo, addr, err := parsePortAddr(pair)
		if err != nil {
			return err
		}
		conn, err := link.DialTCP(addr)
		if err != nil {
			return xerrors.Errorf("cellboot: connect %s: %w", addr, err)
		}
		router.Attach(portNo, conn)
		if err := ca.PortUpInterior(portNo); err != nil {
			return xerrors.Errorf("cellboot: port up %d: %w", portNo, err)
		}
		log.Lvl1(cellID, "connected port", portNo, "to", addr)
	}

	for _, quad := range splitPairs(c.String("border")) {
		portNo, addr, senderID, treeName, err := parseBorderSpec(quad)
		if err != nil {
			return err
		}
		conn, err := link.DialTCP(addr)
		if err != nil {
			return xerrors.Errorf("cellboot: border connect %s: %w", addr, err)
		}
		nocTreeID, err := fabric.NewTreeID(treeName)
		if err != nil {
			return err
		}
		borderConn := link.NewBorderConn(conn, portNo)
		ca.SetAppSink(&link.BorderAppSink{Conn: borderConn})
		if err := ca.PortUpBorder(portNo, senderID, nocTreeID, gvm.NewEquation("true", "true", "true", "false")); err != nil {
			return xerrors.Errorf("cellboot: border port up %d: %w", portNo, err)
		}
		go func(portNo fabric.PortNo) {
			err := borderConn.Listen(func(env link.AppEnvelope) error {
				return ca.ProcessAppMsg(portNo, env.AllowedTree, cellagent.AppMsgType(env.AppMsgType), env.Bytes)
			})
			log.Lvl3(cellID, "border port", portNo, "connection closed:", err)
		}(portNo)
		log.Lvl1(cellID, "border port", portNo, "connected to", addr, "as", senderID)
	}

	if webAddr := c.String("web"); webAddr != "" {
		srv := webapi.NewServer(ca, pe)
		go func() {
			if err := srv.ListenAndServe(webAddr); err != nil {
				log.Error("cellboot: webapi:", err)
			}
		}()
		log.Lvl1(cellID, "inspection endpoint on", webAddr)
	}

	waitForSignal()
	return nil
}

func cmdReplay(c *cli.Context) error {
	if c.NArg() < 2 {
		return xerrors.New("usage: cellboot replay <cell-id> <trace-file>")
	}
	cfg := loadConfig(c)

	cellID, err := fabric.NewCellID(c.Args().Get(0))
	if err != nil {
		return err
	}
	tracePath := c.Args().Get(1)

	connID, _ := fabric.NewTreeID("Tree:connected")
	myID, _ := fabric.NewTreeID("Tree:" + cellID.String())
	controlID, _ := fabric.NewTreeID("Tree:control")

	router := link.NewRouter(cellID)
	proxy := &link.CASinkProxy{}
	pe := packetengine.New(cellID, connID, fabric.PortQty(cfg.MaxPortsPerCell), nil, router, proxy)
	ca := cellagent.New(cellID, fabric.PortQty(cfg.MaxPortsPerCell), cfg.QuenchPolicyValue(), pe, router)
	if err := ca.Initialize(controlID, connID, myID, gvm.NewEquation("true", "true", "true", "false")); err != nil {
		return err
	}
	proxy.CA = ca

	sc, closeFn, err := trace.NewReplayFile(tracePath)
	if err != nil {
		return err
	}
	defer closeFn()

	replay := &trace.Replay{CA: ca, PE: pe, ContinueOnError: cfg.ContinueOnError}
	if err := replay.Run(sc); err != nil {
		return err
	}

	fmt.Printf("%# v\n", pretty.Formatter(ca.Snapshot()))
	return nil
}

func cmdRack(c *cli.Context) error {
	if c.NArg() < 2 {
		return xerrors.New("usage: cellboot rack <cell-id> <cell-id> [cell-id...]")
	}
	cfg := loadConfig(c)

	r := rack.New()
	var cells []*rack.Cell
	for i := 0; i < c.NArg(); i++ {
		cell, err := r.AddCell(c.Args().Get(i), fabric.PortQty(cfg.MaxPortsPerCell), nil, cfg.QuenchPolicyValue(), gvm.NewEquation("true", "true", "true", "false"))
		if err != nil {
			return err
		}
		cells = append(cells, cell)
	}
	for i := 0; i < len(cells)-1; i++ {
		if err := r.Connect(rack.Edge{CellA: cells[i].ID, PortA: fabric.PortNo(i + 1), CellB: cells[i+1].ID, PortB: 1}); err != nil {
			return err
		}
	}

	if brk := c.String("break"); brk != "" || cfg.AutoBreak != "" {
		if brk == "" {
			brk = cfg.AutoBreak
		}
		cellID, port, err := parseCellPort(brk)
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if cell.ID.String() == cellID.String() {
				cellID = cell.ID
				break
			}
		}
		if err := r.Break(cellID, port); err != nil {
			return err
		}
		log.Lvl1("severed", brk)
	}

	for _, cell := range cells {
		fmt.Printf("%s: %# v\n", cell.ID, pretty.Formatter(cell.CA.Snapshot()))
	}
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func splitPairs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parsePortAddr(pair string) (fabric.PortNo, string, error) {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 {
		return 0, "", xerrors.Errorf("cellboot: malformed port=addr pair %q", pair)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", xerrors.Errorf("cellboot: malformed port %q: %w", parts[0], err)
	}
	return fabric.PortNo(n), parts[1], nil
}

// parseBorderSpec parses a "port=addr=sender-id=tree-name" --border
// entry (spec.md §4.7 "Port up (border)").
func parseBorderSpec(s string) (fabric.PortNo, string, fabric.SenderID, string, error) {
	parts := strings.SplitN(s, "=", 4)
	if len(parts) != 4 {
		return 0, "", fabric.SenderID{}, "", xerrors.Errorf("cellboot: malformed border spec %q, want port=addr=sender-id=tree-name", s)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fabric.SenderID{}, "", xerrors.Errorf("cellboot: malformed border port %q: %w", parts[0], err)
	}
	senderID, err := fabric.NewSenderID(parts[2])
	if err != nil {
		return 0, "", fabric.SenderID{}, "", err
	}
	return fabric.PortNo(n), parts[1], senderID, parts[3], nil
}

func parseCellPort(s string) (fabric.CellID, fabric.PortNo, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return fabric.CellID{}, 0, xerrors.Errorf("cellboot: malformed cell:port %q", s)
	}
	cellID, err := fabric.NewCellID(s[:idx])
	if err != nil {
		return fabric.CellID{}, 0, err
	}
	n, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return fabric.CellID{}, 0, xerrors.Errorf("cellboot: malformed port %q: %w", s[idx+1:], err)
	}
	return cellID, fabric.PortNo(n), nil
}
