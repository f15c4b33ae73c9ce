package audio

import "testing"

func TestDrain_ConsumesUntilClose(t *testing.T) {
	t.Parallel()

	ch := make(chan []byte, 4)
	for range 4 {
		ch <- []byte{0x00}
	}
	close(ch)

	Drain(ch)
	if _, ok := <-ch; ok {
		t.Fatal("buffered values survived Drain")
	}
}

func TestDrain_UnblocksSender(t *testing.T) {
	t.Parallel()

	ch := make(chan int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 8 {
			ch <- i
		}
		close(ch)
	}()

	Drain(ch)
	<-done
}
