// Command gccnmf-devices lists the capture and playback audio devices
// malgo can see, so an operator can find the --device substring to pass
// to gccnmf. Grounded on the teacher's cmd/testmic for the standalone
// purpose-built utility style (log.Fatalf on setup failure, minimal
// flag surface).
package main

import (
	"flag"
	"fmt"
	"log"

	"gccnmf/internal/device"
)

func main() {
	flag.Parse()

	dev, err := device.NewDuplex()
	if err != nil {
		log.Fatalf("gccnmf-devices: %v", err)
	}
	defer dev.Close()

	infos, err := dev.ListDevices()
	if err != nil {
		log.Fatalf("gccnmf-devices: %v", err)
	}
	if len(infos) == 0 {
		fmt.Println("no audio devices found")
		return
	}

	for _, info := range infos {
		dir := ""
		if info.IsInput {
			dir += "in"
		}
		if info.IsOutput {
			if dir != "" {
				dir += "/"
			}
			dir += "out"
		}
		fmt.Printf("%-8s %-40s %s\n", dir, info.Name, info.ID)
	}
}
