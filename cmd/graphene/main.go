// Command graphene is the hosted simulator entrypoint: it wires a kmain.Kernel
// against the in-process arch.Sim backend, loads one or more ELF64 module
// files from disk as its boot modules, and drives the scheduler loop until
// every non-idle thread has exited or a tick budget runs out. There is no
// rt0 assembly stub or bare-metal boot path here — unlike the freestanding
// binary this project's kernel packages are otherwise built to become, this
// command exists to exercise that same wiring on a host, the way the boot
// and stub trampolines exist only to keep the linker from discarding
// kmain.Kmain.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/kmain"
	"github.com/HTRMC/Graphene-Kernel/kernel/proc"
)

// simMemory is the size of the flat, single-region physical memory map the
// simulator hands to the frame allocator. Real hardware supplies a
// multi-region map with reserved holes (spec §4.1); the simulator only
// needs enough usable memory to back its own address spaces and heaps.
const simMemory = 256 * 1024 * 1024

// maxTicks bounds how long the scheduler loop runs before giving up on a
// module that never exits, so a buggy or intentionally spinning module
// under test can't hang the host process forever.
const maxTicks = 1_000_000

func main() {
	var modulePaths string
	var ticks uint64
	flag.StringVar(&modulePaths, "modules", "", "comma-separated paths to ELF64 module files to load as boot modules")
	flag.Uint64Var(&ticks, "ticks", maxTicks, "maximum scheduler ticks to run before stopping")
	flag.Parse()

	if modulePaths == "" {
		fmt.Fprintln(os.Stderr, "graphene: at least one -modules path is required")
		os.Exit(2)
	}

	modules, err := loadModules(modulePaths)
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphene:", err)
		os.Exit(1)
	}

	info := boot.Info{
		MemoryMap: []boot.MemoryRegion{
			{PhysAddr: 0, Length: 0x100000, Type: boot.RegionReserved},
			{PhysAddr: 0x100000, Length: simMemory - 0x100000, Type: boot.RegionUsable},
		},
		Modules: modules,
	}

	k, kerr := kmain.New(info, arch.NewSim(), arch.NewSimController(), kmain.DefaultConfig())
	if kerr != nil {
		fmt.Fprintln(os.Stderr, "graphene: failed to build kernel:", kerr)
		os.Exit(1)
	}

	run(k, ticks)
	fmt.Print(k.Console.String())
}

// loadModules reads a comma-separated list of ELF64 file paths off disk and
// returns them as boot.Modules, named after their base filename the way a
// bootloader's module command line would.
func loadModules(paths string) ([]boot.Module, error) {
	var mods []boot.Module
	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading module %q: %w", p, err)
		}
		name := p
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			name = p[i+1:]
		}
		mods = append(mods, boot.Module{Name: name, Size: uintptr(len(data)), Data: data})
	}
	return mods, nil
}

// run drives the scheduler loop (spec §2 "Data flow": "scheduler starts →
// timer ticks drive preemption"). This hosted simulator has no user-mode
// execution engine, so rather than interpreting a picked thread's actual
// instructions it advances the thread's virtual runtime by one quantum's
// worth of ticks per turn and reschedules — enough to exercise vruntime
// ordering and preemption end to end. It stops once idle is picked with
// nothing else runnable, meaning every loaded module has run to completion.
func run(k *kmain.Kernel, budget uint64) {
	for i := uint64(0); i < budget; i++ {
		outgoing := k.Current()
		runnable := outgoing == nil || outgoing.State != proc.ThreadZombie
		next := k.Schedule(runnable)
		if next == nil {
			return
		}
		if next.Flags&proc.FlagIdle != 0 && k.Scheduler.Len() == 0 {
			k.Log.Printf("graphene: idle after %d ticks, nothing left runnable\n", i)
			return
		}
		k.Tick(next.Quantum)
	}
	k.Log.Printf("graphene: stopped after %d ticks\n", budget)
}
