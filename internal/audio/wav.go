package audio

import "encoding/binary"

const wavHeaderLen = 44

// PCM16ToWAV wraps mono PCM16 bytes in a canonical 44-byte WAV header.
func PCM16ToWAV(pcm []byte, sampleRate int) []byte {
	dataLen := len(pcm) - len(pcm)%BytesPerSample
	totalLen := wavHeaderLen + dataLen

	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*BytesPerSample))
	binary.LittleEndian.PutUint16(buf[32:34], BytesPerSample)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[wavHeaderLen:], pcm[:dataLen])

	return buf
}
