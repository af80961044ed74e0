// Command kfdctl drives a P25 Key Fill Device conversation from the
// command line: self-test the three-wire lines, detect whichever radio or
// KVL is attached, load or erase keys, and inspect what a peer currently
// holds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	p25kfd "github.com/kfdcore/go-p25kfd"
	"github.com/kfdcore/go-p25kfd/hal/gpioline"
	"github.com/kfdcore/go-p25kfd/hal/serialbridge"
)

type globalFlags struct {
	dataPin  string
	sensePin string
	serial   string
	kbaud    int
	debug    bool
}

func parseGlobalFlags(fs *flag.FlagSet, args []string) (*globalFlags, []string, error) {
	g := &globalFlags{}
	fs.StringVar(&g.dataPin, "data-pin", "", "GPIO DATA pin name (e.g. GPIO17)")
	fs.StringVar(&g.sensePin, "sense-pin", "", "GPIO SENSE pin name (e.g. GPIO27)")
	fs.StringVar(&g.serial, "serial", "", "serial port path, uses RTS/DTR bit-banging instead of GPIO")
	fs.IntVar(&g.kbaud, "kbaud", 4, "line speed in kilobaud (2-9)")
	fs.BoolVar(&g.debug, "debug", false, "print debug output to the console")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return g, fs.Args(), nil
}

func openKFD(g *globalFlags) (*p25kfd.KFD, error) {
	if g.debug {
		p25kfd.SetDebugEnabled(true)
	}

	cfg := p25kfd.DefaultConfig()
	if err := p25kfd.WithTXKilobaud(g.kbaud)(cfg); err != nil {
		return nil, err
	}
	if err := p25kfd.WithRXKilobaud(g.kbaud)(cfg); err != nil {
		return nil, err
	}

	switch {
	case g.serial != "":
		line, err := serialbridge.Open(g.serial)
		if err != nil {
			return nil, fmt.Errorf("open serial bridge: %w", err)
		}
		return p25kfd.New(line, cfg)
	case g.dataPin != "" && g.sensePin != "":
		line, err := gpioline.Open(g.dataPin, g.sensePin)
		if err != nil {
			return nil, fmt.Errorf("open GPIO lines: %w", err)
		}
		return p25kfd.New(line, cfg)
	default:
		return nil, errors.New("must specify either -serial or both -data-pin and -sense-pin")
	}
}

func printResult(op string, res p25kfd.Result) int {
	if res.Success {
		fmt.Printf("%s: %s\n", op, res.Message)
		return 0
	}
	fmt.Fprintf(os.Stderr, "%s failed: %s (status 0x%02X)\n", op, res.Message, res.Status)
	return 1
}

func cmdSelfTest(kfd *p25kfd.KFD, _ []string) int {
	return printResult("self-test", kfd.SelfTest())
}

func cmdDetect(kfd *p25kfd.KFD, _ []string) int {
	peer, res := kfd.DetectPeer()
	if !res.Success {
		return printResult("detect", res)
	}
	name := "unknown"
	switch peer {
	case p25kfd.PeerMobileRadio:
		name = "mobile radio"
	case p25kfd.PeerKVL:
		name = "KVL"
	}
	fmt.Printf("detect: found %s\n", name)
	return 0
}

func cmdEraseAll(kfd *p25kfd.KFD, _ []string) int {
	return printResult("erase-all", kfd.EraseAllKeys())
}

func cmdErase(kfd *p25kfd.KFD, args []string) int {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	keyset := fs.Int("keyset", 1, "keyset id")
	sln := fs.Int("sln", 0, "storage location number")
	_ = fs.Parse(args)
	return printResult("erase", kfd.EraseKey(byte(*keyset), uint16(*sln)))
}

func cmdKeyload(kfd *p25kfd.KFD, args []string) int {
	fs := flag.NewFlagSet("keyload", flag.ExitOnError)
	keyset := fs.Int("keyset", 1, "keyset id")
	sln := fs.Int("sln", 0, "storage location number")
	keyID := fs.Int("keyid", 1, "key id")
	algorithm := fs.String("alg", "aes256", "algorithm: clear, des, 3des2, 3des3, aes128, aes256, aescbc, adp")
	keyHex := fs.String("key", "", "key material as hex")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	alg, err := parseAlgorithm(*algorithm)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	slot := p25kfd.KeySlot{
		AlgorithmID: alg,
		KeyID:       uint16(*keyID),
		SLN:         uint16(*sln),
		KeyHex:      *keyHex,
	}
	item, err := slot.ToKeyItem(byte(*keyset))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid key material: %v\n", err)
		return 1
	}
	return printResult("keyload", kfd.Keyload(item))
}

func parseAlgorithm(name string) (p25kfd.AlgorithmID, error) {
	switch name {
	case "clear":
		return p25kfd.AlgClear, nil
	case "des":
		return p25kfd.AlgDESOFB, nil
	case "3des2":
		return p25kfd.Alg3DES2Key, nil
	case "3des3":
		return p25kfd.Alg3DES3Key, nil
	case "aes128":
		return p25kfd.AlgAES128, nil
	case "aes256":
		return p25kfd.AlgAES256, nil
	case "aescbc":
		return p25kfd.AlgAESCBC, nil
	case "adp":
		return p25kfd.AlgADP, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", name)
	}
}

func cmdViewKeys(kfd *p25kfd.KFD, _ []string) int {
	keys, res := kfd.ViewKeyInfo()
	if !res.Success {
		return printResult("view-keys", res)
	}
	for _, k := range keys {
		fmt.Printf("  key_id=%d algorithm=0x%02X sln=%d\n", k.KeyID, byte(k.AlgorithmID), k.SLN)
	}
	fmt.Printf("view-keys: %d key(s)\n", len(keys))
	return 0
}

func cmdViewKeysets(kfd *p25kfd.KFD, _ []string) int {
	sets, res := kfd.ViewKeysetInfo()
	if !res.Success {
		return printResult("view-keysets", res)
	}
	for _, s := range sets {
		fmt.Printf("  keyset_id=%d active=%v\n", s.KeysetID, s.Active)
	}
	return 0
}

func cmdActivateKeyset(kfd *p25kfd.KFD, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: activate-keyset <keyset-id>")
		return 1
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid keyset id:", err)
		return 1
	}
	return printResult("activate-keyset", kfd.ActivateKeyset(byte(id)))
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: kfdctl <selftest|detect|keyload|erase|erase-all|view-keys|view-keysets|activate-keyset> [flags]")
		return 2
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	g, rest, err := parseGlobalFlags(fs, os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	kfd, err := openKFD(g)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	defer func() { _ = kfd.Close() }()

	_, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\naborting...")
		kfd.Abort()
		cancel()
	}()

	switch command {
	case "selftest":
		return cmdSelfTest(kfd, rest)
	case "detect":
		return cmdDetect(kfd, rest)
	case "keyload":
		return cmdKeyload(kfd, rest)
	case "erase":
		return cmdErase(kfd, rest)
	case "erase-all":
		return cmdEraseAll(kfd, rest)
	case "view-keys":
		return cmdViewKeys(kfd, rest)
	case "view-keysets":
		return cmdViewKeysets(kfd, rest)
	case "activate-keyset":
		return cmdActivateKeyset(kfd, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		return 2
	}
}

func main() {
	os.Exit(run())
}
