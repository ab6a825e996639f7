package uplink

import (
	"encoding/json"
	"log/slog"
	"net"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irgordon/uplink/internal/transport"
)

// netInfo describes one network interface in the ident report. The
// field names are contractual.
type netInfo struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"`
	Netmask string `json:"netmask"`
	Gateway string `json:"gateway"`
	DNS     string `json:"dns"`
	Mac     string `json:"mac"`
	Driver  string `json:"driver"`
}

// identInfo is the cargo of the ident frame.
type identInfo struct {
	UUID            string    `json:"uuid"`
	Version         string    `json:"version"`
	Service         string    `json:"service"`
	Binary          string    `json:"binary,omitempty"`
	Tag             string    `json:"tag,omitempty"`
	UpdateTimeTaken uint64    `json:"update_time_taken,omitempty"`
	Arch            string    `json:"arch"`
	PhysicalRAM     uint64    `json:"physical_ram"`
	CPUFeatures     []string  `json:"cpu_features"`
	Devices         []string  `json:"devices"`
	Net             []netInfo `json:"net"`
}

// sendIdent reports who this node is right after docking.
func (u *Uplink) sendIdent() error {
	u.mu.Lock()
	info := identInfo{
		UUID:            u.id,
		Version:         u.version,
		Service:         u.service,
		Binary:          u.binaryHash,
		Tag:             u.cfg.Tag,
		UpdateTimeTaken: u.updateTimeTaken,
		Arch:            runtime.GOARCH,
	}
	u.mu.Unlock()

	if vm, err := mem.VirtualMemory(); err == nil {
		info.PhysicalRAM = vm.Total
	}
	info.CPUFeatures = cpuFeatures()
	info.Devices = blockDevices()
	info.Net = interfaces(u.cfg.Interface)

	blob, err := json.Marshal(info)
	if err != nil {
		return err
	}
	u.logger.Info("sending ident", slog.String("uuid", info.UUID), slog.String("service", info.Service))
	return u.sendFrame(transport.CodeIdent, blob)
}

func cpuFeatures() []string {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return []string{}
	}
	if len(infos[0].Flags) == 0 {
		return []string{}
	}
	return infos[0].Flags
}

func blockDevices() []string {
	parts, err := disk.Partitions(false)
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Device+" ("+p.Fstype+")")
	}
	return out
}

// interfaces lists the host's non-loopback interfaces. A name selector
// keeps only the interface of that name; a positive index within range
// keeps only that position in the list. Index 0 or an out-of-range index
// reports every interface.
func interfaces(sel IfaceSelector) []netInfo {
	ifaces, err := net.Interfaces()
	if err != nil {
		return []netInfo{}
	}
	out := make([]netInfo, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if sel.Name != "" && ifc.Name != sel.Name {
			continue
		}
		ni := netInfo{
			Name: ifc.Name,
			Mac:  ifc.HardwareAddr.String(),
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok || ipnet.IP.To4() == nil {
					continue
				}
				ni.Addr = ipnet.IP.String()
				ni.Netmask = net.IP(ipnet.Mask).String()
				break
			}
		}
		out = append(out, ni)
	}
	if sel.Name == "" && sel.Index > 0 && sel.Index < len(out) {
		return out[sel.Index : sel.Index+1]
	}
	return out
}
