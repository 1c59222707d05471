package agent

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

const cpusetFile = "/proc/self/cpuset"

// sensorID identifies this sensor instance across re-announcements
var sensorID = uuid.NewString()

// announcement describes the current process
func announcement() AnnounceRequest {
	req := AnnounceRequest{
		PID:      os.Getpid(),
		SensorID: sensorID,
	}
	if len(os.Args) > 0 {
		req.Name = os.Args[0]
		req.Args = append([]string(nil), os.Args[1:]...)
	}
	if exe, err := os.Executable(); err == nil {
		req.Name = exe
	}
	if data, err := os.ReadFile(cpusetFile); err == nil {
		req.CPUSetFileContent = strings.TrimSpace(string(data))
	}
	return req
}

// Entity is the periodic process snapshot reported to the agent
type Entity struct {
	Name       string        `json:"name"`
	PID        int           `json:"pid"`
	SensorID   string        `json:"sensorId"`
	GoVersion  string        `json:"version"`
	StartedAt  int64         `json:"started"`
	Goroutines int           `json:"goroutines"`
	CPUs       int           `json:"cpus"`
	Memory     EntityMemory  `json:"memory"`
	GC         EntityGCStats `json:"gc"`
}

// EntityMemory holds heap figures in bytes
type EntityMemory struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heap_inuse"`
	HeapObjs   uint64 `json:"heap_objects"`
}

// EntityGCStats holds collector figures
type EntityGCStats struct {
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"pause_total_ns"`
}

var processStart = time.Now()

// runtimeSnapshot collects the entity data for pid
func runtimeSnapshot(pid int) any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Entity{
		Name:       filepath.Base(os.Args[0]),
		PID:        pid,
		SensorID:   sensorID,
		GoVersion:  runtime.Version(),
		StartedAt:  processStart.UnixMilli(),
		Goroutines: runtime.NumGoroutine(),
		CPUs:       runtime.NumCPU(),
		Memory: EntityMemory{
			Alloc:      mem.Alloc,
			TotalAlloc: mem.TotalAlloc,
			Sys:        mem.Sys,
			HeapInuse:  mem.HeapInuse,
			HeapObjs:   mem.HeapObjects,
		},
		GC: EntityGCStats{
			NumGC:        mem.NumGC,
			PauseTotalNs: mem.PauseTotalNs,
		},
	}
}
