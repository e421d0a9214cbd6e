package container

import (
	"strconv"
	"time"

	"github.com/ariznodes/vpsctl/internal/backend"
)

// Labels attached to every container the backend creates. They let a fresh
// process rediscover its sessions.
const (
	LabelID        = "vpsctl.id"
	LabelOwner     = "vpsctl.owner"
	LabelDisk      = "vpsctl.disk"
	LabelImage     = "vpsctl.image"
	LabelMemoryMB  = "vpsctl.memory_mb"
	LabelCPUs      = "vpsctl.cpus"
	LabelHostPort  = "vpsctl.host_port"
	LabelCreatedAt = "vpsctl.created_at"
)

func requestLabels(req backend.Request) map[string]string {
	return map[string]string{
		LabelID:        req.SessionID,
		LabelOwner:     req.Owner,
		LabelDisk:      req.Spec.Disk,
		LabelImage:     req.Spec.Image,
		LabelMemoryMB:  strconv.Itoa(req.Spec.MemoryMB),
		LabelCPUs:      strconv.FormatFloat(req.Spec.CPUs, 'f', -1, 64),
		LabelHostPort:  strconv.Itoa(req.HostPort),
		LabelCreatedAt: req.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func specFromLabels(labels map[string]string) backend.Spec {
	memory, _ := strconv.Atoi(labels[LabelMemoryMB])
	cpus, _ := strconv.ParseFloat(labels[LabelCPUs], 64)
	return backend.Spec{
		MemoryMB: memory,
		CPUs:     cpus,
		Disk:     labels[LabelDisk],
		Image:    labels[LabelImage],
	}
}
