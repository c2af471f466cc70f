//go:build linux

package nodeengine

import "syscall"

func devFromStat(stat *syscall.Stat_t) uint64 {
	return stat.Dev
}
