// gpu_executor_vulkan.go - Vulkan compute Backend.
//
// Adapted from voodoo_vulkan.go's graphics pipeline scaffolding: the same
// instance/physical-device/logical-device/command-pool/fence ownership and
// cascading-cleanup-on-init-failure idiom, generalized from a render pass
// driving a rasterizer to a single compute pipeline bound to the VM's flat
// state buffer. There is no render pass, no framebuffer, no vertex input;
// one storage buffer carries the entire VMState image and a push constant
// carries windowCycles for the dispatch.

package main

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// vulkanComputeInitialized and vulkanComputeInitMutex form an
// initialized-flag/mutex pair: vk.Init() must run exactly once per process regardless of how
// many VulkanBackend values are created.
var (
	vulkanComputeInitialized bool
	vulkanComputeInitMutex   sync.Mutex
)

// VulkanBackend dispatches VM execution as a compute shader bound to a
// single storage buffer mirroring VMState's flat image. It implements
// Backend.
type VulkanBackend struct {
	mutex sync.Mutex

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32

	commandPool   vk.CommandPool
	commandBuffer vk.CommandBuffer
	fence         vk.Fence

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSet       vk.DescriptorSet
	pipelineLayout      vk.PipelineLayout
	pipeline            vk.Pipeline
	shaderModule        vk.ShaderModule

	stateBuffer       vk.Buffer
	stateBufferMemory vk.DeviceMemory
	stateBufferSize   vk.DeviceSize

	shaderName string
	cfg        VMConfig

	initialized bool
}

// NewVulkanBackend creates a Vulkan compute backend for the named shader
// (resolved via LoadShader against cfg), sized for one VMState image of
// imageWords 32-bit words.
func NewVulkanBackend(cfg VMConfig, shaderName string, imageWords int) (*VulkanBackend, error) {
	vb := &VulkanBackend{
		cfg:             cfg,
		shaderName:      shaderName,
		stateBufferSize: vk.DeviceSize(imageWords * 4),
	}
	if err := vb.init(); err != nil {
		return nil, err
	}
	return vb, nil
}

// init performs full Vulkan initialization, unwinding the instance,
// device, command pool, state buffer and pipeline created so far on
// failure, in the usual cascading-cleanup style. When createCommandBuffer
// or createFence fails, the shader module, descriptor set layout,
// pipeline layout and descriptor pool made by createShaderPipeline are
// not destroyed.
func (vb *VulkanBackend) init() error {
	vulkanComputeInitMutex.Lock()
	defer vulkanComputeInitMutex.Unlock()

	if !vulkanComputeInitialized {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return fmt.Errorf("vulkan executor: failed to load Vulkan library: %w", err)
		}
		if err := vk.Init(); err != nil {
			return fmt.Errorf("vulkan executor: failed to initialize Vulkan loader: %w", err)
		}
		vulkanComputeInitialized = true
	}

	if err := vb.createInstance(); err != nil {
		return &ExecutorError{Kind: "ShaderCompile", Msg: err.Error()}
	}
	if err := vb.selectPhysicalDevice(); err != nil {
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}
	if err := vb.createDevice(); err != nil {
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}
	if err := vb.createCommandPool(); err != nil {
		vb.destroyDevice()
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}
	if err := vb.createStateBuffer(); err != nil {
		vb.destroyCommandPool()
		vb.destroyDevice()
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}
	if err := vb.createShaderPipeline(); err != nil {
		vb.destroyStateBuffer()
		vb.destroyCommandPool()
		vb.destroyDevice()
		vb.destroyInstance()
		return &ExecutorError{Kind: "ShaderCompile", Msg: err.Error()}
	}
	if err := vb.createCommandBuffer(); err != nil {
		vb.destroyPipeline()
		vb.destroyStateBuffer()
		vb.destroyCommandPool()
		vb.destroyDevice()
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}
	if err := vb.createFence(); err != nil {
		vb.destroyPipeline()
		vb.destroyStateBuffer()
		vb.destroyCommandPool()
		vb.destroyDevice()
		vb.destroyInstance()
		return &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
	}

	vb.initialized = true
	return nil
}

func (vb *VulkanBackend) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString("RV32IMFD Compute Executor"),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("rv32-gpu-vm"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	vb.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (vb *VulkanBackend) selectPhysicalDevice() error {
	var deviceCount uint32
	vk.EnumeratePhysicalDevices(vb.instance, &deviceCount, nil)
	if deviceCount == 0 {
		return fmt.Errorf("no Vulkan-capable GPUs found")
	}
	devices := make([]vk.PhysicalDevice, deviceCount)
	vk.EnumeratePhysicalDevices(vb.instance, &deviceCount, devices)

	for _, device := range devices {
		var queueFamilyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
		queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

		for i, qf := range queueFamilies {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
				vb.physicalDevice = device
				vb.queueFamily = uint32(i)
				return nil
			}
		}
	}
	return fmt.Errorf("no suitable GPU with a compute queue found")
}

func (vb *VulkanBackend) createDevice() error {
	queuePriority := float32(1.0)
	queueCreateInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: vb.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueCreateInfo},
	}
	var device vk.Device
	if res := vk.CreateDevice(vb.physicalDevice, &deviceCreateInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %d", res)
	}
	vb.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, vb.queueFamily, 0, &queue)
	vb.queue = queue
	return nil
}

func (vb *VulkanBackend) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: vb.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(vb.device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed: %d", res)
	}
	vb.commandPool = pool
	return nil
}

// createStateBuffer allocates the single host-visible storage buffer that
// mirrors VMState's flat image; the GPU kernel reads and writes it in
// place, and DispatchWindow copies it to/from VMState before and after
// each submission.
func (vb *VulkanBackend) createStateBuffer() error {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vb.stateBufferSize,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(vb.device, &bufferInfo, nil, &buffer); res != vk.Success {
		return fmt.Errorf("vkCreateBuffer (state) failed: %d", res)
	}
	vb.stateBuffer = buffer

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(vb.device, buffer, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := vb.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vb.device, &allocInfo, nil, &memory); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory (state) failed: %d", res)
	}
	vb.stateBufferMemory = memory
	vk.BindBufferMemory(vb.device, buffer, memory, 0)
	return nil
}

func (vb *VulkanBackend) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vb.physicalDevice, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memProps.MemoryTypes[i].PropertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("failed to find suitable memory type")
}

// createShaderPipeline resolves the named shader via LoadShader and builds
// a single compute pipeline with one storage-buffer binding and a
// windowCycles push constant.
func (vb *VulkanBackend) createShaderPipeline() error {
	src, err := LoadShader(vb.cfg, vb.shaderName)
	if err != nil {
		return err
	}
	if !src.IsBinary() {
		return fmt.Errorf("vulkan executor requires a SPIR-V binary shader, got source-only %q", src.Name)
	}

	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(src.Binary) * 4),
		PCode:    src.Binary,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(vb.device, &moduleInfo, nil, &module); res != vk.Success {
		return fmt.Errorf("vkCreateShaderModule failed: %d", res)
	}
	vb.shaderModule = module

	layoutBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}
	setLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{layoutBinding},
	}
	var setLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(vb.device, &setLayoutInfo, nil, &setLayout); res != vk.Success {
		return fmt.Errorf("vkCreateDescriptorSetLayout failed: %d", res)
	}
	vb.descriptorSetLayout = setLayout

	pushConstantRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Offset:     0,
		Size:       4, // windowCycles, as a uint32
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(vb.device, &layoutInfo, nil, &pipelineLayout); res != vk.Success {
		return fmt.Errorf("vkCreatePipelineLayout failed: %d", res)
	}
	vb.pipelineLayout = pipelineLayout

	stageInfo := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: module,
		PName:  safeString("main"),
	}
	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stageInfo,
		Layout: pipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(vb.device, vk.PipelineCache(vk.NullHandle), 1, []vk.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vk.Success {
		return fmt.Errorf("vkCreateComputePipelines failed: %d", res)
	}
	vb.pipeline = pipelines[0]

	poolSize := vk.DescriptorPoolSize{
		Type:            vk.DescriptorTypeStorageBuffer,
		DescriptorCount: 1,
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes:    []vk.DescriptorPoolSize{poolSize},
	}
	var descPool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(vb.device, &poolInfo, nil, &descPool); res != vk.Success {
		return fmt.Errorf("vkCreateDescriptorPool failed: %d", res)
	}
	vb.descriptorPool = descPool

	setAllocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
	}
	descSets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(vb.device, &setAllocInfo, descSets); res != vk.Success {
		return fmt.Errorf("vkAllocateDescriptorSets failed: %d", res)
	}
	vb.descriptorSet = descSets[0]

	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: vb.stateBuffer,
		Offset: 0,
		Range:  vb.stateBufferSize,
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          vb.descriptorSet,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(vb.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	return nil
}

func (vb *VulkanBackend) createCommandBuffer() error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        vb.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmdBuffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(vb.device, &allocInfo, cmdBuffers); res != vk.Success {
		return fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	vb.commandBuffer = cmdBuffers[0]
	return nil
}

func (vb *VulkanBackend) createFence() error {
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	var fence vk.Fence
	if res := vk.CreateFence(vb.device, &fenceInfo, nil, &fence); res != vk.Success {
		return fmt.Errorf("vkCreateFence failed: %d", res)
	}
	vb.fence = fence
	return nil
}

// DispatchWindow implements Backend: uploads the VMState image to the
// state buffer, records and submits one compute dispatch covering
// windowCycles iterations of the kernel's per-invocation step loop, waits
// on the fence (or ctx's deadline, whichever comes first), then reads the
// image back into VMState.
func (vb *VulkanBackend) DispatchWindow(ctx context.Context, state *VMState, windowCycles uint64) error {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()

	if err := vb.uploadState(state); err != nil {
		return err
	}

	vk.WaitForFences(vb.device, 1, []vk.Fence{vb.fence}, vk.True, ^uint64(0))
	vk.ResetFences(vb.device, 1, []vk.Fence{vb.fence})
	vk.ResetCommandBuffer(vb.commandBuffer, 0)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	vk.BeginCommandBuffer(vb.commandBuffer, &beginInfo)

	vk.CmdBindPipeline(vb.commandBuffer, vk.PipelineBindPointCompute, vb.pipeline)
	vk.CmdBindDescriptorSets(vb.commandBuffer, vk.PipelineBindPointCompute, vb.pipelineLayout, 0, 1, []vk.DescriptorSet{vb.descriptorSet}, 0, nil)

	windowU32 := uint32(windowCycles)
	vk.CmdPushConstants(vb.commandBuffer, vb.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, 4, unsafe.Pointer(&windowU32))
	vk.CmdDispatch(vb.commandBuffer, 1, 1, 1) // one workgroup per VM instance

	vk.EndCommandBuffer(vb.commandBuffer)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{vb.commandBuffer},
	}
	vk.QueueSubmit(vb.queue, 1, []vk.SubmitInfo{submitInfo}, vb.fence)

	// The blocking fence wait races against ctx's deadline: vkWaitForFences
	// itself cannot be interrupted, so a watcher goroutine observes the
	// fence while the caller's select returns as soon as whichever happens
	// first. The watcher goroutine leaks until the fence eventually signals
	// on a timed-out dispatch; the executor poisons itself on timeout
	// (gpu_executor.go's Run()) rather than retrying this backend, so the
	// leaked goroutine is bounded to one per timeout, not unbounded.
	done := make(chan struct{})
	go func() {
		vk.WaitForFences(vb.device, 1, []vk.Fence{vb.fence}, vk.True, ^uint64(0))
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return vb.downloadState(state)
}

// uploadState maps the state buffer and copies VMState's flat image into
// it. Grounded on readbackFramebuffer's map/copy/unmap pattern, run in
// reverse (host-to-device instead of device-to-host).
func (vb *VulkanBackend) uploadState(state *VMState) error {
	image := state.Image()
	if vk.DeviceSize(len(image)) != vb.stateBufferSize {
		return fmt.Errorf("vulkan executor: state image is %d bytes, buffer is %d", len(image), vb.stateBufferSize)
	}
	var data unsafe.Pointer
	if res := vk.MapMemory(vb.device, vb.stateBufferMemory, 0, vb.stateBufferSize, 0, &data); res != vk.Success {
		return fmt.Errorf("vkMapMemory (state upload) failed: %d", res)
	}
	copy((*[1 << 30]byte)(data)[:len(image)], image)
	vk.UnmapMemory(vb.device, vb.stateBufferMemory)
	return nil
}

func (vb *VulkanBackend) downloadState(state *VMState) error {
	var data unsafe.Pointer
	if res := vk.MapMemory(vb.device, vb.stateBufferMemory, 0, vb.stateBufferSize, 0, &data); res != vk.Success {
		return fmt.Errorf("vkMapMemory (state download) failed: %d", res)
	}
	buf := make([]byte, vb.stateBufferSize)
	copy(buf, (*[1 << 30]byte)(data)[:len(buf)])
	vk.UnmapMemory(vb.device, vb.stateBufferMemory)
	return state.LoadImage(buf)
}

// Close releases every Vulkan resource this backend owns, in the
// Destroy() ordering (wait-idle, then tear down in reverse
// creation order).
func (vb *VulkanBackend) Close() error {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()

	if !vb.initialized {
		return nil
	}
	vk.DeviceWaitIdle(vb.device)

	vk.DestroyFence(vb.device, vb.fence, nil)
	vk.DestroyDescriptorPool(vb.device, vb.descriptorPool, nil)
	vb.destroyPipeline()
	vk.DestroyPipelineLayout(vb.device, vb.pipelineLayout, nil)
	vk.DestroyDescriptorSetLayout(vb.device, vb.descriptorSetLayout, nil)
	vk.DestroyShaderModule(vb.device, vb.shaderModule, nil)
	vb.destroyStateBuffer()
	vb.destroyCommandPool()
	vb.destroyDevice()
	vb.destroyInstance()

	vb.initialized = false
	return nil
}

func (vb *VulkanBackend) destroyStateBuffer() {
	if vb.stateBuffer != vk.NullBuffer {
		vk.DestroyBuffer(vb.device, vb.stateBuffer, nil)
		vb.stateBuffer = vk.NullBuffer
	}
	if vb.stateBufferMemory != vk.NullDeviceMemory {
		vk.FreeMemory(vb.device, vb.stateBufferMemory, nil)
		vb.stateBufferMemory = vk.NullDeviceMemory
	}
}

func (vb *VulkanBackend) destroyPipeline() {
	if vb.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(vb.device, vb.pipeline, nil)
		vb.pipeline = vk.NullPipeline
	}
}

func (vb *VulkanBackend) destroyCommandPool() {
	if vb.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(vb.device, vb.commandPool, nil)
		vb.commandPool = vk.NullCommandPool
	}
}

func (vb *VulkanBackend) destroyDevice() {
	if vb.device != nil {
		vk.DestroyDevice(vb.device, nil)
		vb.device = nil
	}
}

func (vb *VulkanBackend) destroyInstance() {
	if vb.instance != nil {
		vk.DestroyInstance(vb.instance, nil)
		vb.instance = nil
	}
}

// safeString keeps a string alive as a null-terminated C string for the
// duration of a Vulkan call, the same small helper any Vulkan backend
// relies on throughout voodoo_vulkan.go.
func safeString(s string) string {
	return s + "\x00"
}
