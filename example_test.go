package ecsfs_test

import (
	"fmt"
	"io"

	"github.com/soypat/ecsfs"
	"github.com/soypat/ecsfs/disk"
)

func ExampleFS_basic_usage() {
	// device could be a disk image or anything that implements the BlockDevice interface.
	device := disk.NewMemory(ecsfs.VolumeBlocks(8))
	if err := ecsfs.Format(device); err != nil {
		panic(err)
	}
	var fs ecsfs.FS
	err := fs.MountDevice(device)
	if err != nil {
		panic(err)
	}
	err = fs.Create("newfile.txt")
	if err != nil {
		panic(err)
	}
	file, err := fs.OpenFile("newfile.txt")
	if err != nil {
		panic(err)
	}
	_, err = file.Write([]byte("Hello, World!"))
	if err != nil {
		panic(err)
	}

	// Read back the file:
	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		panic(err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(data))
	file.Close()

	for entry := range fs.List() {
		fmt.Println(entry)
	}
	info, _ := fs.Info()
	fmt.Print(info)
	if err := fs.Unmount(); err != nil {
		panic(err)
	}
	// Output:
	// Hello, World!
	// file: newfile.txt, size: 13, data_blk: 0
	// FS Info:
	// total_blk_count=11
	// fat_blk_count=1
	// rdir_blk=2
	// data_blk=3
	// data_blk_count=8
	// fat_free_ratio=7/8
	// rdir_free_ratio=127/128
}

func ExampleFS_descriptors() {
	device := disk.NewMemory(ecsfs.VolumeBlocks(4))
	if err := ecsfs.Format(device); err != nil {
		panic(err)
	}
	var fs ecsfs.FS
	if err := fs.MountDevice(device); err != nil {
		panic(err)
	}
	fs.Create("log")
	fd, _ := fs.Open("log")
	fs.Write(fd, []byte("first line\n"))
	fs.Lseek(fd, 6)
	buf := make([]byte, 64)
	n, _ := fs.Read(fd, buf)
	fmt.Printf("%q\n", buf[:n])
	size, _ := fs.Stat(fd)
	fmt.Println(size)
	fmt.Println(fs.Delete("log"))
	fs.Close(fd)
	fmt.Println(fs.Delete("log"))
	// Output:
	// "line\n"
	// 11
	// ecsfs: file is open
	// <nil>
}
